package model

import "time"

// ReviewPriority orders human-review tasks.
type ReviewPriority string

const (
	PriorityUrgent ReviewPriority = "URGENT"
	PriorityNormal ReviewPriority = "NORMAL"
	PriorityLow    ReviewPriority = "LOW"
)

// ReviewStatus is the lifecycle state of a review task.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "PENDING"
	ReviewApproved ReviewStatus = "APPROVED"
	ReviewRejected ReviewStatus = "REJECTED"
)

// ReviewDecision is the verdict a human reviewer submits.
type ReviewDecision string

const (
	DecisionApprove ReviewDecision = "APPROVE"
	DecisionReject  ReviewDecision = "REJECT"
)

// ReviewTask is a human-actionable record generated when automated
// resolution is insufficiently confident or anomalous.
type ReviewTask struct {
	TaskID     string         `json:"task_id"`
	ResolvedID string         `json:"resolved_id"`
	MetricName string         `json:"metric_name"`
	EntityID   string         `json:"entity_id"`
	Period     string         `json:"period"`
	Priority   ReviewPriority `json:"priority"`
	Status     ReviewStatus   `json:"status"`
	Decision   ReviewDecision `json:"reviewer_decision,omitempty"`
	Notes      string         `json:"notes,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	DecidedAt  *time.Time     `json:"decided_at,omitempty"`
}
