package gate

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/chainguard/internal/config"
	"github.com/fyrsmithlabs/chainguard/internal/taskstate"
)

func (d *Dispatcher) alert(_ context.Context, c *call) (*Response, error) {
	var a AlertArgs
	if err := decodeArgs(c.args, &a); err != nil {
		return nil, err
	}
	msg := strings.TrimSpace(a.Message)
	if msg == "" {
		return nil, invalidArgf("message is required")
	}
	sev := taskstate.Severity(strings.ToLower(strings.TrimSpace(a.Severity)))
	if sev != "" && !sev.Valid() {
		return nil, invalidArgf("severity must be info, warning or blocking, got %q", a.Severity)
	}

	raised, err := c.proj.State.AddAlert(msg, taskstate.SourceManual, sev)
	if err != nil {
		return nil, err
	}
	return okResponse(c.op, fmt.Sprintf("alert raised [%s]: %s", raised.Severity, raised.Message),
		AlertView{Alert: raised}), nil
}

func (d *Dispatcher) clearAlerts(_ context.Context, c *call) (*Response, error) {
	var a ClearAlertsArgs
	if err := decodeArgs(c.args, &a); err != nil {
		return nil, err
	}
	acked, left := c.proj.State.AcknowledgeAlerts(a.Force)
	view := AlertsView{
		Acknowledged: acked,
		BlockingLeft: left,
		Open:         c.proj.State.View().UnacknowledgedAlerts(),
	}
	resp := okResponse(c.op, fmt.Sprintf("acknowledged %d alert(s)", acked), view)
	if left > 0 {
		resp.warn("%d blocking alert(s) remain: fix them or pass force=true", left)
	}
	return resp, nil
}

func (d *Dispatcher) listProjects(ctx context.Context, c *call) (*Response, error) {
	infos, err := d.projects.Projects(ctx)
	if err != nil {
		return nil, err
	}
	return okResponse(c.op, fmt.Sprintf("%d project(s)", len(infos)), ProjectsView{Projects: infos}), nil
}

func (d *Dispatcher) configure(_ context.Context, c *call) (*Response, error) {
	var a ConfigArgs
	if err := decodeArgs(c.args, &a); err != nil {
		return nil, err
	}
	rt := d.opts.Settings

	if a.ValidationThreshold == nil && a.Format == "" {
		s := rt.Get()
		return okResponse(c.op, "current settings",
			SettingsView{ValidationThreshold: s.ValidationThreshold, Format: s.ResponseFormat}), nil
	}

	apply := func(s *config.Settings) {
		if a.ValidationThreshold != nil {
			s.ValidationThreshold = *a.ValidationThreshold
		}
		if a.Format != "" {
			s.ResponseFormat = strings.ToLower(strings.TrimSpace(a.Format))
		}
	}
	candidate := rt.Get()
	apply(&candidate)
	if err := candidate.Validate(); err != nil {
		return nil, invalidArgf("%v", err)
	}
	s, err := rt.Update(apply)
	if err != nil {
		return nil, fmt.Errorf("saving settings: %w", err)
	}
	return okResponse(c.op, "settings updated",
		SettingsView{ValidationThreshold: s.ValidationThreshold, Format: s.ResponseFormat}), nil
}

func (d *Dispatcher) history(ctx context.Context, c *call) (*Response, error) {
	var a HistoryArgs
	if err := decodeArgs(c.args, &a); err != nil {
		return nil, err
	}
	limit := a.Limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	entries, err := d.store.History(ctx, c.proj.Key, limit)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return okResponse(c.op, "no history for "+c.proj.Name, HistoryView{}), nil
	}
	return okResponse(c.op, fmt.Sprintf("%d history entries for %s", len(entries), c.proj.Name),
		HistoryView{Entries: entries}), nil
}
