package gemini

import (
	"fmt"
	"strings"

	"github.com/shamgpt/shamgpt/engine/domain"
)

// systemInstruction frames every answer generation call. The assistant is
// scoped to Syria-related questions and asked to admit uncertainty.
const systemInstruction = `أنت مساعد ذكي متخصص في الإجابة على الأسئلة المتعلقة بسوريا.
يجب أن تكون إجاباتك دقيقة ومحدثة ومفيدة. استخدم المعلومات المتاحة في السياق المقدم.
إذا لم تكن متأكداً من إجابة، اعترف بذلك وقدم أفضل ما يمكنك من معلومات.`

// answerPrompt assembles the generation prompt: system instruction, web
// context, up to three prior pairs, then the question.
func answerPrompt(question, context string, prior []domain.QAPair) string {
	var b strings.Builder
	b.WriteString(systemInstruction)
	b.WriteString("\n")

	if context != "" {
		fmt.Fprintf(&b, "معلومات خلفية:\n%s\n", context)
	}

	if len(prior) > 0 {
		b.WriteString("أسئلة وأجوبة سابقة للسياق:\n")
		for i, qa := range prior {
			if i >= maxPriorPairs {
				break
			}
			fmt.Fprintf(&b, "س: %s\n", qa.QuestionText)
			fmt.Fprintf(&b, "ج: %s\n", qa.AnswerText)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "السؤال: %s\n", question)
	b.WriteString("الإجابة:")
	return b.String()
}

// variantsPrompt asks for n paraphrases as a bare JSON list. The model is
// explicitly told not to preface the list with prose.
func variantsPrompt(question string, n int) string {
	return fmt.Sprintf(`أنشئ %d أسئلة مشابهة وتملك معنى السؤال الأصلي وبما يتوافق مع المجتمع السوري.
أعد النتيجة بتنسيق list من %d عناصر هكذا:
["سؤال 1", "سؤال 2", "سؤال 3", "سؤال 4", "سؤال 5"]
لا تعد أي شيء مثل (إليك %d أسئلة مشابهة تتناسب مع السياق السوري:) مباشرة اعط القائمة.

السؤال الأصلي:
%s`, n, n, n, question)
}

// extractionPrompt asks for 3-5 question/answer pairs from an article as
// strict JSON.
func extractionPrompt(title, content string) string {
	return fmt.Sprintf(`تحويل المقال الإخباري إلى أسئلة وأجوبة:

المقال: %s

المحتوى: %s

المطلوب:
1. استخرج 3-5 أسئلة مهمة من المقال
2. اكتب إجابات واضحة ومفصلة لكل سؤال
3. ركز على المعلومات المهمة والحديثة
4. استخدم لغة عربية واضحة

الإجابة المطلوبة بتنسيق JSON:
{
    "qa_pairs": [
        {
            "question": "السؤال الأول",
            "answer": "الإجابة الأولى",
            "keywords": ["كلمة1", "كلمة2"],
            "confidence": 0.9
        }
    ]
}`, title, content)
}
