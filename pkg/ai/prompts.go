package ai

import (
	"fmt"
	"strings"
)

const responseContract = `IMPORTANT: Respond with only a valid JSON object and nothing else.
No markdown, no code blocks, no explanations.
Format exactly like this:
{"score": <number>, "feedback": "<string>"}`

// WritingPromptInput carries the task statements and the two essays of a writing submission.
type WritingPromptInput struct {
	TaskOne          string
	TaskTwo          string
	ImageDescription string
	ContentOne       string
	ContentTwo       string
}

// SpeakingPromptPart is one recorded part with its prompts and transcript.
type SpeakingPromptPart struct {
	Number     int
	Prompts    []string
	Transcript string
}

// BuildWritingPrompt renders the band-score prompt for a writing submission.
func BuildWritingPrompt(input WritingPromptInput) string {
	var builder strings.Builder
	builder.WriteString("You are a helpful and fair IELTS writing teacher for the tutoring platform \"Idest\".\n")
	builder.WriteString("Evaluate the submission against the official IELTS Writing rubric ")
	builder.WriteString("(Task Achievement, Coherence and Cohesion, Lexical Resource, Grammatical Range and Accuracy) ")
	builder.WriteString("and give an overall band score between 0 and 9 in steps of 0.5.\n")
	builder.WriteString("Be slightly generous when the score is borderline. ")
	builder.WriteString("Trust the submission over the image description if they conflict. ")
	builder.WriteString("Ignore formatting issues but do evaluate grammar, vocabulary and spelling.\n\n")

	builder.WriteString("## Task 1\n")
	builder.WriteString(strings.TrimSpace(input.TaskOne))
	if desc := strings.TrimSpace(input.ImageDescription); desc != "" {
		builder.WriteString("\n\nImage description:\n")
		builder.WriteString(desc)
	}
	builder.WriteString("\n\n## Task 2\n")
	builder.WriteString(strings.TrimSpace(input.TaskTwo))

	builder.WriteString("\n\n## Submission for Task 1\n")
	builder.WriteString(strings.TrimSpace(input.ContentOne))
	builder.WriteString("\n\n## Submission for Task 2\n")
	builder.WriteString(strings.TrimSpace(input.ContentTwo))

	builder.WriteString("\n\n")
	builder.WriteString(responseContract)
	return builder.String()
}

// BuildSpeakingPrompt renders the band-score prompt for a speaking submission.
// Parts without a transcript are reported as not answered.
func BuildSpeakingPrompt(parts []SpeakingPromptPart) string {
	var questions strings.Builder
	var answers strings.Builder
	for _, part := range parts {
		fmt.Fprintf(&questions, "Part %d:\n", part.Number)
		for i, prompt := range part.Prompts {
			fmt.Fprintf(&questions, "%d. %s\n", i+1, strings.TrimSpace(prompt))
		}

		transcript := strings.TrimSpace(part.Transcript)
		if transcript == "" {
			transcript = "(not answered)"
		}
		fmt.Fprintf(&answers, "Part %d answer:\n%s\n\n", part.Number, transcript)
	}

	var builder strings.Builder
	builder.WriteString("You are a helpful and fair IELTS speaking teacher for the tutoring platform \"Idest\".\n")
	builder.WriteString("Evaluate the transcribed answers against the official IELTS Speaking rubric ")
	builder.WriteString("(Fluency and Coherence, Lexical Resource, Grammatical Range and Accuracy) ")
	builder.WriteString("and give an overall band score between 0 and 9 in steps of 0.5.\n")
	builder.WriteString("Be slightly generous when the score is borderline. ")
	builder.WriteString("The answers are automatic transcripts, so ignore punctuation and formatting.\n\n")
	builder.WriteString("## Questions\n")
	builder.WriteString(questions.String())
	builder.WriteString("\n## Answers\n")
	builder.WriteString(strings.TrimRight(answers.String(), "\n"))
	builder.WriteString("\n\n")
	builder.WriteString(responseContract)
	return builder.String()
}
