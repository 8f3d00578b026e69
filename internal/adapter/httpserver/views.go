package httpserver

import (
	"encoding/json"
	"time"

	"github.com/fairyhunter13/pagebroker/internal/domain"
)

// View structs shape what each role is allowed to see. Owners get the user
// log but never the internal worker log; workers get the full definition and
// internal log of the job they hold; admins see everything.

type keyView struct {
	ID       string     `json:"id"`
	Label    string     `json:"label"`
	Role     string     `json:"role"`
	Active   bool       `json:"active"`
	Created  time.Time  `json:"created"`
	LastUsed *time.Time `json:"last_used,omitempty"`
}

func toKeyView(k domain.Key) keyView {
	return keyView{
		ID:       k.ID,
		Label:    k.Label,
		Role:     string(k.Role),
		Active:   k.Active,
		Created:  k.Created,
		LastUsed: k.LastUsed,
	}
}

type engineView struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	Description string    `json:"description,omitempty"`
	Created     time.Time `json:"created"`
}

func toEngineView(e domain.Engine) engineView {
	return engineView{ID: e.ID, Name: e.Name, Version: e.Version, Description: e.Description, Created: e.Created}
}

type imageView struct {
	ID            string  `json:"id,omitempty"`
	Name          string  `json:"name"`
	Order         int     `json:"order"`
	ImageHash     *string `json:"image_hash,omitempty"`
	ImageUploaded bool    `json:"image_uploaded"`
	AltoUploaded  bool    `json:"alto_uploaded"`
	PageUploaded  bool    `json:"page_uploaded"`
}

func toImageViews(images []domain.Image) []imageView {
	if images == nil {
		return nil
	}
	out := make([]imageView, len(images))
	for i, img := range images {
		out[i] = imageView{
			ID:            img.ID,
			Name:          img.Name,
			Order:         img.Order,
			ImageHash:     img.ImageHash,
			ImageUploaded: img.ImageUploaded,
			AltoUploaded:  img.AltoUploaded,
			PageUploaded:  img.PageUploaded,
		}
	}
	return out
}

type leaseView struct {
	Deadline   time.Time `json:"lease_expire_at"`
	ServerTime time.Time `json:"server_time"`
}

func toLeaseView(l domain.Lease) leaseView {
	return leaseView{Deadline: l.Deadline, ServerTime: l.ServerTime}
}

type jobView struct {
	ID               string          `json:"id"`
	State            string          `json:"state"`
	Progress         float64         `json:"progress"`
	PreviousAttempts int             `json:"previous_attempts"`
	EngineID         *string         `json:"engine_id,omitempty"`
	AltoRequired     bool            `json:"alto_required"`
	PageRequired     bool            `json:"page_required"`
	MetaJSONRequired bool            `json:"meta_json_required"`
	MetaJSONUploaded bool            `json:"meta_json_uploaded"`
	Created          time.Time       `json:"created"`
	Started          *time.Time      `json:"started,omitempty"`
	LastChange       time.Time       `json:"last_change"`
	Finished         *time.Time      `json:"finished,omitempty"`
	OwnerKeyID       string          `json:"owner_key_id,omitempty"`
	WorkerKeyID      *string         `json:"worker_key_id,omitempty"`
	Log              string          `json:"log,omitempty"`
	LogUser          string          `json:"log_user,omitempty"`
	Definition       json.RawMessage `json:"definition,omitempty"`
	Images           []imageView     `json:"images,omitempty"`
}

// jobViewFor filters the job by caller role. images may be nil for list
// responses.
func jobViewFor(caller domain.Key, j domain.Job, images []domain.Image) jobView {
	v := jobView{
		ID:               j.ID,
		State:            string(j.State),
		Progress:         j.Progress,
		PreviousAttempts: j.PreviousAttempts,
		EngineID:         j.EngineID,
		AltoRequired:     j.AltoRequired,
		PageRequired:     j.PageRequired,
		MetaJSONRequired: j.MetaJSONRequired,
		MetaJSONUploaded: j.MetaJSONUploaded,
		Created:          j.Created,
		Started:          j.Started,
		LastChange:       j.LastChange,
		Finished:         j.Finished,
		LogUser:          j.LogUser,
		Images:           toImageViews(images),
	}
	switch caller.Role {
	case domain.RoleAdmin:
		v.OwnerKeyID = j.OwnerKeyID
		v.WorkerKeyID = j.WorkerKeyID
		v.Log = j.Log
		v.Definition = j.Definition
	case domain.RoleWorker:
		v.Log = j.Log
		v.Definition = j.Definition
	default:
		// Owners track their pages by name; image ids are internal.
		for i := range v.Images {
			v.Images[i].ID = ""
		}
	}
	return v
}
