package domain

import (
	"fmt"
	"strconv"
	"strings"

	delivery "github.com/cuongbtq/task-notifier/internal/delivery/domain"
)

// CorrelationID links a notification to its task.
func CorrelationID(taskID int) string {
	return "task:" + strconv.Itoa(taskID)
}

func dueDate(t TaskNotice) string {
	if !t.DueDate.Valid {
		return "none"
	}
	return t.DueDate.Time.Format("2006-01-02")
}

// OverdueTask builds the notice sent when a task passes its due date.
func OverdueTask(t TaskNotice) delivery.Payload {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", t.DisplayName())
	b.WriteString("The following task is now OVERDUE:\n")
	fmt.Fprintf(&b, "Task ID: %d\n", t.TaskID)
	fmt.Fprintf(&b, "Name: %s\n", t.Name)
	fmt.Fprintf(&b, "Due Date: %s\n", dueDate(t))
	fmt.Fprintf(&b, "Priority: %s\n\n", t.Priority)
	b.WriteString("Please update the status or contact your manager.")

	return delivery.Payload{
		Recipient:     t.Email.String,
		Subject:       "Task Overdue: " + t.Name,
		Body:          b.String(),
		CorrelationID: CorrelationID(t.TaskID),
	}
}

// OverdueStage builds the notice sent for a started stage of an overdue task.
func OverdueStage(s StageNotice) delivery.Payload {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", s.DisplayName())
	b.WriteString("A stage in your task is overdue:\n")
	fmt.Fprintf(&b, "Stage: %s\n", s.StageName)
	fmt.Fprintf(&b, "Task: %s (ID: %d)\n\n", s.TaskName, s.TaskID)
	b.WriteString("Please attend to this immediately.")

	return delivery.Payload{
		Recipient:     s.Email.String,
		Subject:       fmt.Sprintf("Stage Overdue in Task %d", s.TaskID),
		Body:          b.String(),
		CorrelationID: CorrelationID(s.TaskID),
	}
}

// DueSoon builds the reminder for a task due within the reminder window.
func DueSoon(t TaskNotice) delivery.Payload {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", t.DisplayName())
	b.WriteString("This is a reminder that your task is due soon:\n")
	fmt.Fprintf(&b, "Task ID: %d\n", t.TaskID)
	fmt.Fprintf(&b, "Name: %s\n", t.Name)
	fmt.Fprintf(&b, "Due Date: %s\n\n", dueDate(t))
	b.WriteString("Please ensure it is completed on time.")

	return delivery.Payload{
		Recipient:     t.Email.String,
		Subject:       "Reminder: Task Due Soon - " + t.Name,
		Body:          b.String(),
		CorrelationID: CorrelationID(t.TaskID),
	}
}

// Manual builds the notice sent on demand for a task.
func Manual(t TaskNotice) delivery.Payload {
	state := "Unknown"
	if t.StateName.Valid {
		state = t.StateName.String
	}

	var b strings.Builder
	b.WriteString("This is a manual notification for your task:\n")
	fmt.Fprintf(&b, "Task: %s (ID: %d)\n", t.Name, t.TaskID)
	fmt.Fprintf(&b, "Status: %s\n", state)
	fmt.Fprintf(&b, "Priority: %s\n", t.Priority)

	return delivery.Payload{
		Recipient:     t.Email.String,
		Subject:       "Notification: Task " + t.Name,
		Body:          b.String(),
		CorrelationID: CorrelationID(t.TaskID),
	}
}
