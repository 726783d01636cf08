package ai

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildWritingPrompt(t *testing.T) {
	prompt := BuildWritingPrompt(WritingPromptInput{
		TaskOne:          "Describe the chart.",
		TaskTwo:          "Discuss both views.",
		ImageDescription: "A bar chart of rainfall.",
		ContentOne:       "The chart shows rainfall.",
		ContentTwo:       "Some people believe...",
	})

	require.Contains(t, prompt, "## Task 1\nDescribe the chart.")
	require.Contains(t, prompt, "Image description:\nA bar chart of rainfall.")
	require.Contains(t, prompt, "## Submission for Task 2\nSome people believe...")
	require.True(t, strings.HasSuffix(prompt, `{"score": <number>, "feedback": "<string>"}`))
}

func TestBuildWritingPromptWithoutImage(t *testing.T) {
	prompt := BuildWritingPrompt(WritingPromptInput{TaskOne: "t1", TaskTwo: "t2"})
	require.NotContains(t, prompt, "Image description")
}

func TestBuildSpeakingPrompt(t *testing.T) {
	prompt := BuildSpeakingPrompt([]SpeakingPromptPart{
		{Number: 1, Prompts: []string{"Where do you live?", "Do you like it?"}, Transcript: "I live in Hanoi."},
		{Number: 2, Prompts: []string{"Describe a trip."}},
	})

	require.Contains(t, prompt, "Part 1:\n1. Where do you live?\n2. Do you like it?\n")
	require.Contains(t, prompt, "Part 1 answer:\nI live in Hanoi.")
	require.Contains(t, prompt, "Part 2 answer:\n(not answered)")
	require.Contains(t, prompt, "JSON")
}
