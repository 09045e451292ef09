package host

import (
	"errors"
	"fmt"

	"github.com/banshee-data/expression.report/internal/db"
	"github.com/banshee-data/expression.report/internal/expression/features"
	"github.com/banshee-data/expression.report/internal/expression/statefile"
)

// Command names accepted by Do.
const (
	CmdSetLabel = "set_label"
	CmdRecord   = "record"
	CmdStop     = "stop"
	CmdClear    = "clear"
	CmdTrain    = "train"
	CmdPredict  = "predict"
	CmdSave     = "save"
	CmdLoad     = "load"
	CmdSelect   = "select"
	CmdReset    = "reset"
)

// ErrBadCommand is returned in Reply.Err for unknown or malformed commands.
var ErrBadCommand = errors.New("host: bad command")

// Command is one request from the API.
type Command struct {
	Name      string              `json:"command"`
	Label     string              `json:"label,omitempty"`
	Enabled   *bool               `json:"enabled,omitempty"`
	Selection *features.Selection `json:"selection,omitempty"`

	// SnapshotID selects a database snapshot for load. "latest" picks the
	// newest one. Empty loads the state file.
	SnapshotID string `json:"snapshot_id,omitempty"`
}

// Reply is the outcome of a Command.
type Reply struct {
	Err        error    `json:"-"`
	Message    string   `json:"message,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
	Accuracy   float64  `json:"accuracy,omitempty"`
	SnapshotID string   `json:"snapshot_id,omitempty"`
	Bytes      int      `json:"bytes,omitempty"`
}

func fail(err error) Reply { return Reply{Err: err} }

func (r *Runner) apply(cmd Command) Reply {
	e := r.eng
	switch cmd.Name {
	case CmdSetLabel:
		if cmd.Label == "" {
			return fail(fmt.Errorf("%w: label is required", ErrBadCommand))
		}
		e.Settings.Label = cmd.Label
		return Reply{Message: "label set to " + cmd.Label}

	case CmdRecord:
		if cmd.Label != "" {
			e.Settings.Label = cmd.Label
		}
		e.Flags.Recording = true
		return Reply{Message: "recording " + e.Settings.Label}

	case CmdStop:
		e.Flags.Recording = false
		return Reply{Message: "recording stopped"}

	case CmdClear:
		label := cmd.Label
		if label == "" {
			label = e.Settings.Label
		}
		e.ClearLabel(label)
		return Reply{Message: "cleared " + label}

	case CmdTrain:
		res, err := e.Train()
		r.afterTrain(res, err)
		rep := Reply{Err: err}
		if res != nil {
			rep.Warnings = res.Warnings
			rep.Accuracy = res.Accuracy
		}
		if err == nil {
			rep.Message = fmt.Sprintf("trained %d classes", len(res.Labels))
			rep.SnapshotID = r.lastSnapshot
		}
		return rep

	case CmdPredict:
		on := true
		if cmd.Enabled != nil {
			on = *cmd.Enabled
		}
		e.Flags.Predict = on
		return Reply{Message: fmt.Sprintf("predict %t", on)}

	case CmdSelect:
		if err := r.selection(cmd.Selection); err != nil {
			return fail(err)
		}
		return Reply{Message: "selection updated"}

	case CmdReset:
		e.Invalidate()
		return Reply{Message: "calibration data reset"}

	case CmdSave:
		return r.save()

	case CmdLoad:
		return r.load(cmd.SnapshotID)
	}
	return fail(fmt.Errorf("%w: unknown command %q", ErrBadCommand, cmd.Name))
}

func (r *Runner) save() Reply {
	if r.cfg.StatePath == "" && r.cfg.DB == nil {
		return fail(ErrNoStore)
	}
	var rep Reply
	if r.cfg.StatePath != "" {
		n, err := statefile.Save(r.cfg.FS, r.cfg.StatePath, r.eng)
		if err != nil {
			return fail(err)
		}
		rep.Bytes = n
		rep.Message = "saved " + r.cfg.StatePath
	}
	if r.cfg.DB != nil {
		id, err := r.snapshot("manual")
		if err != nil {
			return fail(err)
		}
		rep.SnapshotID = id
		if rep.Message == "" {
			rep.Message = "saved snapshot " + id
		}
	}
	logf("%s", rep.Message)
	return rep
}

func (r *Runner) load(snapshotID string) Reply {
	if snapshotID == "" {
		if r.cfg.StatePath == "" {
			return fail(ErrNoStore)
		}
		if err := statefile.Load(r.cfg.FS, r.cfg.StatePath, r.eng); err != nil {
			return fail(err)
		}
		return Reply{Message: "loaded " + r.cfg.StatePath}
	}

	if r.cfg.DB == nil {
		return fail(ErrNoStore)
	}
	var (
		snap *db.Snapshot
		err  error
	)
	if snapshotID == "latest" {
		snap, err = r.cfg.DB.LatestSnapshot()
	} else {
		snap, err = r.cfg.DB.GetSnapshot(snapshotID)
	}
	if err != nil {
		return fail(err)
	}
	if err := r.eng.Deserialize(snap.Blob); err != nil {
		return fail(err)
	}
	r.lastSnapshot = snap.ID
	return Reply{Message: "loaded snapshot " + snap.ID, SnapshotID: snap.ID}
}
