package models

// JobType selects the handler for a job and how many phases it declares.
type JobType string

const (
	JobTypeProcessFlyer           JobType = "process_flyer"
	JobTypeProcessPrivateEvent    JobType = "process_private_event"
	JobTypeProcessMultiEventFlyer JobType = "process_multi_event_flyer"
	JobTypeCleanupOutdatedEvents  JobType = "cleanup_outdated_events"
	JobTypeProcessCivicEngagement JobType = "process_civic_engagement"
)

// DefaultTotalSteps applies to any type missing from the table.
const DefaultTotalSteps = 5

// ProgressScale is the unit a job type reports progress in.
type ProgressScale string

const (
	ProgressScalePercent    ProgressScale = "percent"    // 0 - 100
	ProgressScaleFractional ProgressScale = "fractional" // 0.0 - 1.0
)

// JobTypeInfo is the static per-type metadata.
type JobTypeInfo struct {
	TotalSteps int
	Scale      ProgressScale
}

// JobTypeTable is the single source of phase counts and progress scale.
// The store uses it for terminal progress and BaseHandler for start progress.
type JobTypeTable struct {
	entries map[JobType]JobTypeInfo
}

// NewJobTypeTable builds a table from entries. Unlisted types get DefaultTotalSteps on the percent scale.
func NewJobTypeTable(entries map[JobType]JobTypeInfo) *JobTypeTable {
	copied := make(map[JobType]JobTypeInfo, len(entries))
	for k, v := range entries {
		if v.Scale == "" {
			v.Scale = ProgressScalePercent
		}
		copied[k] = v
	}
	return &JobTypeTable{entries: copied}
}

// DefaultJobTypeTable returns the table for the built-in job types.
func DefaultJobTypeTable() *JobTypeTable {
	return NewJobTypeTable(map[JobType]JobTypeInfo{
		JobTypeProcessFlyer:           {TotalSteps: 6, Scale: ProgressScalePercent},
		JobTypeProcessPrivateEvent:    {TotalSteps: 4, Scale: ProgressScalePercent},
		JobTypeProcessMultiEventFlyer: {TotalSteps: 8, Scale: ProgressScalePercent},
		JobTypeCleanupOutdatedEvents:  {TotalSteps: 3, Scale: ProgressScaleFractional},
		JobTypeProcessCivicEngagement: {TotalSteps: 4, Scale: ProgressScalePercent},
	})
}

// TotalSteps returns the declared phase count for jobType.
func (t *JobTypeTable) TotalSteps(jobType JobType) int {
	if info, ok := t.entries[jobType]; ok {
		return info.TotalSteps
	}
	return DefaultTotalSteps
}

// Scale returns the progress unit for jobType.
func (t *JobTypeTable) Scale(jobType JobType) ProgressScale {
	if info, ok := t.entries[jobType]; ok {
		return info.Scale
	}
	return ProgressScalePercent
}

// Progress converts a percentage (0-100) into the type's unit.
func (t *JobTypeTable) Progress(jobType JobType, percent float64) float64 {
	if t.Scale(jobType) == ProgressScaleFractional {
		return percent / 100
	}
	return percent
}

// TerminalProgress is the value written on complete or fail.
func (t *JobTypeTable) TerminalProgress(jobType JobType) float64 {
	return t.Progress(jobType, 100)
}

// Types lists the job types with explicit entries.
func (t *JobTypeTable) Types() []JobType {
	types := make([]JobType, 0, len(t.entries))
	for k := range t.entries {
		types = append(types, k)
	}
	return types
}
