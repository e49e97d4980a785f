package prompt_test

import (
	"testing"

	"github.com/book-expert/speech-service/internal/prompt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_Templates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		task     prompt.Task
		content  string
		question string
		expected string
	}{
		{
			name:     "summarize",
			task:     prompt.TaskSummarize,
			content:  "第一章",
			expected: "请用简洁的语言总结以下内容，提取关键点:\n\n第一章",
		},
		{
			name:     "translate trims content",
			task:     prompt.TaskTranslate,
			content:  "  你好  ",
			expected: "请将以下内容翻译成英文:\n\n你好",
		},
		{
			name:     "explain",
			task:     prompt.TaskExplain,
			content:  "量子",
			expected: "请用简单的语言解释以下内容:\n\n量子",
		},
		{
			name:     "ask",
			task:     prompt.TaskAsk,
			content:  "故事",
			question: "主角是谁？",
			expected: "关于以下内容:\n\n故事\n\n问题:主角是谁？",
		},
		{
			name:     "custom ignores content",
			task:     prompt.TaskCustom,
			content:  "ignored",
			question: prompt.Presets[4],
			expected: "这段内容的主要观点是什么",
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			result, err := prompt.Build(testCase.task, testCase.content, testCase.question)
			require.NoError(t, err)
			assert.Equal(t, testCase.expected, result)
		})
	}
}

func TestBuild_Errors(t *testing.T) {
	t.Parallel()

	_, err := prompt.Build(prompt.TaskSummarize, "  ", "")
	require.ErrorIs(t, err, prompt.ErrEmptyContent)

	_, err = prompt.Build(prompt.TaskAsk, "content", "")
	require.ErrorIs(t, err, prompt.ErrEmptyQuestion)

	_, err = prompt.Build(prompt.TaskCustom, "", " ")
	require.ErrorIs(t, err, prompt.ErrEmptyQuestion)

	_, err = prompt.Build(prompt.Task("poem"), "content", "")
	require.ErrorIs(t, err, prompt.ErrUnknownTask)
}

func TestParseTask(t *testing.T) {
	t.Parallel()

	task, err := prompt.ParseTask(" Summarize ")
	require.NoError(t, err)
	assert.Equal(t, prompt.TaskSummarize, task)

	task, err = prompt.ParseTask("")
	require.NoError(t, err)
	assert.Equal(t, prompt.TaskCustom, task)

	_, err = prompt.ParseTask("sing")
	require.ErrorIs(t, err, prompt.ErrUnknownTask)
}
