package models

// SlotName identifies one of the two inference slots.
type SlotName string

const (
	SlotBuy  SlotName = "buy"
	SlotSell SlotName = "sell"
)

// Slots lists every slot in a stable order.
var Slots = []SlotName{SlotBuy, SlotSell}

// Protocol tokens.
const (
	ByeToken       = "bye"
	CmdTrainInit   = "train_init"
	CmdTrainFit    = "train_fit"
	CmdTrainSave   = "train_save"
	loadSuffix     = "_load"
	predictSuffix  = "_predict"
	OKResponse     = "ok"
	ErrorPrefix    = "error: "
	PayloadDivider = ":"
)

// LoadCommand returns the load command name for a slot.
func LoadCommand(s SlotName) string { return string(s) + loadSuffix }

// PredictCommand returns the predict command name for a slot.
func PredictCommand(s SlotName) string { return string(s) + predictSuffix }

// Request is a parsed, validated command.
type Request interface {
	Command() string
}

// LoadRequest loads a model artifact into a slot.
type LoadRequest struct {
	Slot SlotName `validate:"oneof=buy sell"`
	Path string   `validate:"required"`
}

func (r *LoadRequest) Command() string { return LoadCommand(r.Slot) }

// PredictRequest runs a slot model over a window of rows, oldest first.
type PredictRequest struct {
	Slot SlotName    `validate:"oneof=buy sell"`
	Rows [][]float64 `validate:"required,min=1,dive,required,min=1"`
}

func (r *PredictRequest) Command() string { return PredictCommand(r.Slot) }

// TrainInitRequest starts a fresh training session from a CSV file.
type TrainInitRequest struct {
	CSVPath   string `validate:"required"`
	Timesteps int    `validate:"gte=1"`
}

func (r *TrainInitRequest) Command() string { return CmdTrainInit }

// TrainFitRequest runs additional epochs on the current session.
type TrainFitRequest struct {
	Epochs    int `validate:"gte=1"`
	BatchSize int `validate:"gte=1"`
}

func (r *TrainFitRequest) Command() string { return CmdTrainFit }

// TrainSaveRequest exports the session model.
type TrainSaveRequest struct {
	Path string `validate:"required"`
}

func (r *TrainSaveRequest) Command() string { return CmdTrainSave }

// CommandEnvelope is the JSON form of one protocol message.
type CommandEnvelope struct {
	Command string `json:"command" validate:"required,ne=bye"`
	Payload string `json:"payload"`
}

// CommandReply carries the protocol response line for a CommandEnvelope.
type CommandReply struct {
	Command  string `json:"command"`
	Response string `json:"response"`
	OK       bool   `json:"ok"`
}

// TrainingRunsQuery selects the most recent training runs.
type TrainingRunsQuery struct {
	Limit int `query:"limit" default:"20" validate:"gte=1,lte=500"`
}
