package domain

import "time"

// EpochMetrics is one row of training history.
type EpochMetrics struct {
	Epoch         int     `json:"epoch"`
	TrainLoss     float64 `json:"train_loss"`
	ValLoss       float64 `json:"val_loss"`
	TrainAccuracy float64 `json:"train_accuracy"`
	ValAccuracy   float64 `json:"val_accuracy"`
}

// TrainingMetrics summarizes the fit.
type TrainingMetrics struct {
	FinalTrainLoss     float64        `json:"final_train_loss"`
	FinalValLoss       float64        `json:"final_val_loss"`
	FinalTrainAccuracy float64        `json:"final_train_accuracy"`
	FinalValAccuracy   float64        `json:"final_val_accuracy"`
	EpochsRun          int            `json:"epochs_run"`
	History            []EpochMetrics `json:"history"`
}

// ClassMetrics holds per-class evaluation numbers.
type ClassMetrics struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
}

// TestMetrics is the held-out evaluation record.
type TestMetrics struct {
	Accuracy        float64                 `json:"accuracy"`
	Loss            float64                 `json:"loss"`
	PerClass        map[string]ClassMetrics `json:"per_class"`
	ConfusionMatrix [][]int                 `json:"confusion_matrix"`
}

// ModelInfo describes the trained network.
type ModelInfo struct {
	Architecture   string   `json:"architecture"`
	ParameterCount int      `json:"parameter_count"`
	FeatureNames   []string `json:"feature_names"`
	LabelClasses   []string `json:"label_classes"`
}

// DataSummary reports what went into a run.
type DataSummary struct {
	Symbols              []string       `json:"symbols"`
	Timeframes           []string       `json:"timeframes"`
	SampleCountsPerSymbol map[string]int `json:"sample_counts_per_symbol"`
	TotalSamples         int            `json:"total_samples"`
	DateRange            [2]time.Time   `json:"date_range"`
}

// SessionInfo is the local orchestrator's session envelope. Mode names
// the orchestrator that ran the session ("local"); the data load mode
// travels separately.
type SessionInfo struct {
	OperationID  string   `json:"operation_id"`
	StrategyName string   `json:"strategy_name"`
	Symbols      []string `json:"symbols"`
	Timeframes   []string `json:"timeframes"`
	Mode         string   `json:"mode"`
	DataMode     string   `json:"data_mode,omitempty"`
}

// ResourceUsage is remote-host accounting attached by the remote
// orchestrator; the pipeline never fills it.
type ResourceUsage struct {
	WallClock time.Duration `json:"wall_clock"`
	PeakRSSMB int           `json:"peak_rss_mb,omitempty"`
}

// ErrorInfo is the user-visible failure payload. Never a stack trace.
type ErrorInfo struct {
	Kind    string            `json:"kind"`
	Message string            `json:"message"`
	Context map[string]string `json:"context,omitempty"`
}

// RunResult is the standardized output of a training run. Both
// orchestrators return this exact shape; the remote one stores and
// relays the pipeline's record verbatim, adding only session fields.
type RunResult struct {
	ModelPath       string             `json:"model_path,omitempty"`
	TrainingMetrics TrainingMetrics    `json:"training_metrics"`
	TestMetrics     TestMetrics        `json:"test_metrics"`
	Artifacts       RunArtifacts       `json:"artifacts"`
	ModelInfo       ModelInfo          `json:"model_info"`
	DataSummary     DataSummary        `json:"data_summary"`
	SessionInfo     *SessionInfo       `json:"session_info,omitempty"`
	SessionID       string             `json:"session_id,omitempty"`
	Status          string             `json:"status,omitempty"`
	ResourceUsage   *ResourceUsage     `json:"resource_usage,omitempty"`
	Error           *ErrorInfo         `json:"error,omitempty"`
}

// RunArtifacts holds auxiliary outputs of a run.
type RunArtifacts struct {
	FeatureImportance map[string]float64     `json:"feature_importance,omitempty"`
	PerSymbolMetrics  map[string]TestMetrics `json:"per_symbol_metrics,omitempty"`
}

// Run statuses shared by orchestrators and the session store.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)
