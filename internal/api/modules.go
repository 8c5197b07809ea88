package api

import (
	"context"
	"sort"

	"github.com/nuslumi/luminus-sync/internal/logging"
)

// AccessFlags mirrors the seven booleans LumiNUS returns per module
// membership; they exist only to compute IsTeaching/IsTaking.
type AccessFlags struct {
	Full           bool `json:"full"`
	Create         bool `json:"create"`
	Update         bool `json:"update"`
	Delete         bool `json:"delete"`
	SettingsRead   bool `json:"settingsRead"`
	SettingsUpdate bool `json:"settingsUpdate"`
	Read           bool `json:"read"`
}

// Module is one enrolled LumiNUS module (course).
type Module struct {
	ID     string       `json:"id"`
	Code   string       `json:"courseName"`
	Name   string       `json:"name"`
	Term   string       `json:"term"`
	Access *AccessFlags `json:"access"`
}

// IsTeaching reports whether the caller has an instructor-grade access
// level on this module.
func (m Module) IsTeaching() bool {
	if m.Access == nil {
		return false
	}
	a := m.Access
	return a.Full || a.Create || a.Update || a.Delete || a.SettingsRead || a.SettingsUpdate
}

// IsTaking reports the complement of IsTeaching, for a module the caller
// has any access to at all.
func (m Module) IsTaking() bool {
	return m.Access != nil && !m.IsTeaching()
}

type apiData struct {
	Data []Module `json:"data"`
}

type termResponse struct {
	TermDetail struct {
		Term string `json:"term"`
	} `json:"termDetail"`
}

func (c *Client) currentTerm(ctx context.Context) (string, error) {
	var resp termResponse
	if err := c.GetJSON(ctx, "setting/AcademicWeek/current?populate=termDetail", &resp); err != nil {
		return "", err
	}
	return resp.TermDetail.Term, nil
}

// Modules fetches every module the session can see and applies the
// academic-term filter: an exact match when term is non-empty, otherwise
// every module from the current term onward. Results are sorted by
// (code ascending, term descending) and deduplicated to one row per code,
// keeping the latest term and logging a warning for each elided row.
func (c *Client) Modules(ctx context.Context, term string) ([]Module, error) {
	var all apiData
	if err := c.GetJSON(ctx, "module", &all); err != nil {
		return nil, err
	}

	filterTerm := term
	equal := term != ""
	if !equal {
		current, err := c.currentTerm(ctx)
		if err != nil {
			return nil, err
		}
		filterTerm = current
	}

	var selected []Module
	for _, m := range all.Data {
		if equal {
			if m.Term == filterTerm {
				selected = append(selected, m)
			}
		} else if m.Term >= filterTerm {
			selected = append(selected, m)
		}
	}

	sort.SliceStable(selected, func(i, j int) bool {
		if selected[i].Code != selected[j].Code {
			return selected[i].Code < selected[j].Code
		}
		return selected[i].Term > selected[j].Term
	})

	log := logging.FromContext(ctx)
	deduped := selected[:0]
	for i, m := range selected {
		if i > 0 && m.Code == selected[i-1].Code {
			log.Warn().Str("module_code", m.Code).Str("elided_term", m.Term).Str("kept_term", selected[i-1].Term).
				Msg("module appeared in more than one term; keeping only the latest")
			continue
		}
		deduped = append(deduped, m)
	}
	return deduped, nil
}

// Announcement is one module announcement; Description is server-side HTML
// that internal/announce renders to plain text.
type Announcement struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type announcementsData struct {
	Data []Announcement `json:"data"`
}

// Announcements fetches the announcement list for one module.
func (c *Client) Announcements(ctx context.Context, moduleID string) ([]Announcement, error) {
	var resp announcementsData
	if err := c.GetJSON(ctx, "announcement/module/"+moduleID+"?populate=TargetGroup", &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}
