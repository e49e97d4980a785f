// Package prompt builds the reading-assistant prompts sent to the chat API.
package prompt

import (
	"errors"
	"fmt"
	"strings"
)

// Task names one of the assistant actions.
type Task string

// Supported tasks. TaskCustom sends the question as-is.
const (
	TaskSummarize Task = "summarize"
	TaskTranslate Task = "translate"
	TaskExplain   Task = "explain"
	TaskAsk       Task = "ask"
	TaskCustom    Task = "custom"
)

var (
	// ErrEmptyContent is returned when a content-based task has nothing to work on.
	ErrEmptyContent = errors.New("no content to work on")
	// ErrEmptyQuestion is returned when ask or custom has no question.
	ErrEmptyQuestion = errors.New("question is required")
	// ErrUnknownTask is returned for a task name Build does not know.
	ErrUnknownTask = errors.New("unknown task")
)

const (
	summarizeTemplate = "请用简洁的语言总结以下内容，提取关键点:\n\n%s"
	translateTemplate = "请将以下内容翻译成英文:\n\n%s"
	explainTemplate   = "请用简单的语言解释以下内容:\n\n%s"
	askTemplate       = "关于以下内容:\n\n%s\n\n问题:%s"
)

// Presets are the canned instructions offered next to the free-form input.
var Presets = []string{
	"请总结这段内容",
	"请翻译成英文",
	"请解释这段内容",
	"请用简单的语言解释",
	"这段内容的主要观点是什么",
}

// ParseTask maps a task name to a Task. The empty name means TaskCustom.
func ParseTask(name string) (Task, error) {
	task := Task(strings.ToLower(strings.TrimSpace(name)))
	if task == "" {
		return TaskCustom, nil
	}

	switch task {
	case TaskSummarize, TaskTranslate, TaskExplain, TaskAsk, TaskCustom:
		return task, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTask, name)
	}
}

// Build renders the prompt for task over content. question is used by
// TaskAsk and TaskCustom only.
func Build(task Task, content, question string) (string, error) {
	content = strings.TrimSpace(content)
	question = strings.TrimSpace(question)

	switch task {
	case TaskSummarize:
		return fill(summarizeTemplate, content)
	case TaskTranslate:
		return fill(translateTemplate, content)
	case TaskExplain:
		return fill(explainTemplate, content)
	case TaskAsk:
		if content == "" {
			return "", ErrEmptyContent
		}

		if question == "" {
			return "", ErrEmptyQuestion
		}

		return fmt.Sprintf(askTemplate, content, question), nil
	case TaskCustom:
		if question == "" {
			return "", ErrEmptyQuestion
		}

		return question, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTask, task)
	}
}

func fill(template, content string) (string, error) {
	if content == "" {
		return "", ErrEmptyContent
	}

	return fmt.Sprintf(template, content), nil
}
