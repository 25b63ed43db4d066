package printer

import "github.com/slok/agentbox/internal/model"

// Printer knows how to print task information in different formats.
type Printer interface {
	PrintTaskList(tasks []model.Task) error
	PrintTask(task model.Task, messages []model.Message) error
	PrintFiles(files []model.FileChange) error
	PrintChecks(results []model.CheckResult) error
	PrintMessage(msg string) error
}
