package textgen

import (
	"fmt"

	"google.golang.org/genai"
)

func QuizPrompt(context string) string {
	return fmt.Sprintf("Based on the following context, generate a single multiple-choice quiz question to test understanding. "+
		"The question should focus on a key concept from the text. Context: %q", TruncateContext(context, MaxContextChars))
}

// QuizSchema describes {topic, question, options, correctOptionIndex}.
func QuizSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"topic": {
				Type:        genai.TypeString,
				Description: "A brief, one or two-word topic for the question (e.g., 'Photosynthesis', 'Calculus').",
			},
			"question": {Type: genai.TypeString},
			"options": {
				Type:  genai.TypeArray,
				Items: &genai.Schema{Type: genai.TypeString},
			},
			"correctOptionIndex": {Type: genai.TypeInteger},
		},
		Required: []string{"topic", "question", "options", "correctOptionIndex"},
	}
}

func FlashcardPrompt(context string) string {
	return fmt.Sprintf("Based on the following context, generate a list of flashcards. Each flashcard should have a 'front' "+
		"(a question or term) and a 'back' (the answer or definition). Context: %q", TruncateContext(context, MaxContextChars))
}

// FlashcardSchema describes [{front, back}, ...].
func FlashcardSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeArray,
		Items: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"front": {Type: genai.TypeString},
				"back":  {Type: genai.TypeString},
			},
			Required: []string{"front", "back"},
		},
	}
}

const tutorInstruction = "You are an expert AI Tutor. Your goal is to help users understand complex topics by providing clear " +
	"explanations, step-by-step examples, and asking probing questions to test their knowledge. Be patient, encouraging, " +
	"and adapt your teaching style to the user's needs."

// NotFoundInNotes opens every study buddy answer to a question the notes do not cover.
const NotFoundInNotes = "Based on the provided notes, I can't find information on that topic."

func studyBuddyInstruction(notes string) string {
	if notes == "" {
		notes = "No notes provided yet."
	}
	return "You are an expert AI Study Buddy. The user has provided the following notes to study from:\n---\n" +
		notes +
		"\n---\nYour knowledge is strictly limited to the text provided above. You CANNOT use any external information. " +
		"When responding to the user:\n" +
		"1. First, determine if the user's question can be answered using ONLY the provided notes.\n" +
		"2. If the answer is in the notes, provide a comprehensive answer based exclusively on that text.\n" +
		"3. If the answer is NOT in the notes, you MUST begin your response with the exact phrase: \"" + NotFoundInNotes + "\" " +
		"After this phrase, you may optionally and briefly mention what the notes DO cover. Do not try to answer the original question."
}
