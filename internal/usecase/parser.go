package usecase

import (
	"errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"SignalServe/internal/domain/models"
	httppkg "SignalServe/pkg/http"
	"SignalServe/pkg/util"
)

var (
	validate = validator.New()
	builders = requestBuilders()
)

// IsBye reports whether msg is the close token. Trailing line breaks are ignored.
func IsBye(msg string) bool {
	return strings.TrimRight(msg, "\r\n") == models.ByeToken
}

// SplitMessage splits "<command>:<payload>" on the first delimiter. A message
// without the delimiter yields the whole message as command and an empty
// payload, which ParseRequest rejects.
func SplitMessage(msg string) (command, payload string) {
	msg = strings.TrimRight(msg, "\r\n")
	command, payload, _ = strings.Cut(msg, models.PayloadDivider)
	return strings.TrimSpace(command), payload
}

// ParseRequest turns a command and its payload into a validated request.
// The command is resolved before the payload is inspected.
func ParseRequest(command, payload string) (models.Request, error) {
	build, ok := builders[command]
	if !ok {
		return nil, models.UnknownCommandError(command)
	}
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, models.BadPayloadError("%s: expected %s:<payload>", command, command)
	}
	req, err := build(payload)
	if err != nil {
		return nil, err
	}
	if err := validate.Struct(req); err != nil {
		return nil, validationError(command, err)
	}
	return req, nil
}

type builder func(payload string) (models.Request, error)

func requestBuilders() map[string]builder {
	m := map[string]builder{
		models.CmdTrainInit: parseTrainInit,
		models.CmdTrainFit:  parseTrainFit,
		models.CmdTrainSave: func(p string) (models.Request, error) {
			return &models.TrainSaveRequest{Path: p}, nil
		},
	}
	for _, slot := range models.Slots {
		m[models.LoadCommand(slot)] = func(p string) (models.Request, error) {
			return &models.LoadRequest{Slot: slot, Path: p}, nil
		}
		m[models.PredictCommand(slot)] = func(p string) (models.Request, error) {
			rows, err := util.ParseFloatRows(p, "|", ",")
			if err != nil {
				return nil, models.BadPayloadError("%s: %v", models.PredictCommand(slot), err)
			}
			return &models.PredictRequest{Slot: slot, Rows: rows}, nil
		}
	}
	return m
}

// parseTrainInit reads "csv_path,timesteps". The path may itself contain commas.
func parseTrainInit(p string) (models.Request, error) {
	path, raw, ok := util.SplitLast(p, ",")
	if !ok {
		return nil, models.BadPayloadError("train_init: expected csv_path,timesteps")
	}
	ts, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return nil, models.BadPayloadError("train_init: timesteps %q is not an integer", strings.TrimSpace(raw))
	}
	return &models.TrainInitRequest{CSVPath: strings.TrimSpace(path), Timesteps: ts}, nil
}

func parseTrainFit(p string) (models.Request, error) {
	epochs, batch, err := util.ParseIntPair(p, ",")
	if err != nil {
		return nil, models.BadPayloadError("train_fit: expected epochs,batch_size").WithError(err)
	}
	return &models.TrainFitRequest{Epochs: epochs, BatchSize: batch}, nil
}

func validationError(command string, err error) error {
	var ves validator.ValidationErrors
	if errors.As(err, &ves) && len(ves) > 0 {
		msgs := make([]string, 0, len(ves))
		for _, fe := range ves {
			msgs = append(msgs, httppkg.FieldMessage(fe))
		}
		return models.BadPayloadError("%s: %s", command, strings.Join(msgs, "; "))
	}
	return models.BadPayloadError("%s: invalid request", command).WithError(err)
}

// FormatError renders err as a protocol response line.
func FormatError(err error) string {
	var ce *models.CommandError
	if !errors.As(err, &ce) {
		ce = models.RuntimeError(err, "unexpected failure")
	}
	return models.ErrorPrefix + ce.Error()
}
