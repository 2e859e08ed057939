package api

import (
	"encoding/json"
	"time"
)

// GeneratedContent is the accumulated output of the agent pipeline. On
// the wire it is a flat map of content-kind-specific keys
// (flyer_url, instagram_caption, whatsapp_message, ...); in Go it is a
// tagged union of per-kind sections so callers work with typed fields.
// Keys that do not belong to a known kind are preserved in Extra.
type GeneratedContent struct {
	Flyer     *FlyerContent
	Social    *SocialContent
	Broadcast *BroadcastContent
	Drive     *DriveContent
	Calendar  *CalendarContent
	Task      *TaskContent

	// Extra preserves unrecognised wire keys verbatim.
	Extra map[string]json.RawMessage
}

// FlyerContent is the design/flyer output.
type FlyerContent struct {
	URL         string `json:"flyer_url,omitempty"`
	CanvaID     string `json:"flyer_canva_id,omitempty"`
	DesignNotes string `json:"flyer_design_notes,omitempty"`
}

// SocialContent holds per-platform captions.
type SocialContent struct {
	Instagram string `json:"instagram_caption,omitempty"`
	LinkedIn  string `json:"linkedin_caption,omitempty"`
	Twitter   string `json:"twitter_caption,omitempty"`
	Facebook  string `json:"facebook_caption,omitempty"`
}

// BroadcastContent is the messaging-broadcast output.
type BroadcastContent struct {
	Message       string   `json:"whatsapp_message,omitempty"`
	BroadcastList []string `json:"whatsapp_broadcast_list,omitempty"`
}

// DriveContent describes the storage folder created for the event.
type DriveContent struct {
	FolderID  string   `json:"drive_folder_id,omitempty"`
	FolderURL string   `json:"drive_folder_url,omitempty"`
	Files     []string `json:"drive_files,omitempty"`
}

// CalendarContent describes the calendar entry created for the event.
type CalendarContent struct {
	EventID    string `json:"google_calendar_id,omitempty"`
	EventURL   string `json:"google_calendar_url,omitempty"`
	InviteSent bool   `json:"calendar_invite_sent,omitempty"`
}

// TaskContent describes the task-tracker item created for the event.
type TaskContent struct {
	TaskID         string   `json:"clickup_task_id,omitempty"`
	TaskURL        string   `json:"clickup_task_url,omitempty"`
	ChecklistItems []string `json:"clickup_checklist_items,omitempty"`
}

// contentWire is the flat wire form of GeneratedContent.
type contentWire struct {
	FlyerURL         string   `json:"flyer_url,omitempty"`
	FlyerCanvaID     string   `json:"flyer_canva_id,omitempty"`
	FlyerDesignNotes string   `json:"flyer_design_notes,omitempty"`
	Instagram        string   `json:"instagram_caption,omitempty"`
	LinkedIn         string   `json:"linkedin_caption,omitempty"`
	Twitter          string   `json:"twitter_caption,omitempty"`
	Facebook         string   `json:"facebook_caption,omitempty"`
	WhatsAppMessage  string   `json:"whatsapp_message,omitempty"`
	WhatsAppList     []string `json:"whatsapp_broadcast_list,omitempty"`
	DriveFolderID    string   `json:"drive_folder_id,omitempty"`
	DriveFolderURL   string   `json:"drive_folder_url,omitempty"`
	DriveFiles       []string `json:"drive_files,omitempty"`
	CalendarID       string   `json:"google_calendar_id,omitempty"`
	CalendarURL      string   `json:"google_calendar_url,omitempty"`
	InviteSent       bool     `json:"calendar_invite_sent,omitempty"`
	TaskID           string   `json:"clickup_task_id,omitempty"`
	TaskURL          string   `json:"clickup_task_url,omitempty"`
	ChecklistItems   []string `json:"clickup_checklist_items,omitempty"`
}

var knownContentKeys = map[string]struct{}{
	"flyer_url": {}, "flyer_canva_id": {}, "flyer_design_notes": {},
	"instagram_caption": {}, "linkedin_caption": {}, "twitter_caption": {}, "facebook_caption": {},
	"whatsapp_message": {}, "whatsapp_broadcast_list": {},
	"drive_folder_id": {}, "drive_folder_url": {}, "drive_files": {},
	"google_calendar_id": {}, "google_calendar_url": {}, "calendar_invite_sent": {},
	"clickup_task_id": {}, "clickup_task_url": {}, "clickup_checklist_items": {},
}

// IsZero reports whether no content of any kind is present.
func (c GeneratedContent) IsZero() bool {
	return c.Flyer == nil && c.Social == nil && c.Broadcast == nil &&
		c.Drive == nil && c.Calendar == nil && c.Task == nil && len(c.Extra) == 0
}

// Merge overlays in onto c. Sections present in in replace the
// corresponding section of c wholesale; absent sections are kept. Extra
// keys are merged with in taking precedence. This gives content bundles
// their update-not-replace regeneration semantics.
func (c *GeneratedContent) Merge(in GeneratedContent) {
	if in.Flyer != nil {
		f := *in.Flyer
		c.Flyer = &f
	}
	if in.Social != nil {
		s := *in.Social
		c.Social = &s
	}
	if in.Broadcast != nil {
		b := *in.Broadcast
		c.Broadcast = &b
	}
	if in.Drive != nil {
		d := *in.Drive
		c.Drive = &d
	}
	if in.Calendar != nil {
		cal := *in.Calendar
		c.Calendar = &cal
	}
	if in.Task != nil {
		t := *in.Task
		c.Task = &t
	}
	for k, v := range in.Extra {
		if c.Extra == nil {
			c.Extra = make(map[string]json.RawMessage)
		}
		c.Extra[k] = v
	}
}

// MarshalJSON flattens the union into the agent wire format.
func (c GeneratedContent) MarshalJSON() ([]byte, error) {
	var wire contentWire
	if c.Flyer != nil {
		wire.FlyerURL = c.Flyer.URL
		wire.FlyerCanvaID = c.Flyer.CanvaID
		wire.FlyerDesignNotes = c.Flyer.DesignNotes
	}
	if c.Social != nil {
		wire.Instagram = c.Social.Instagram
		wire.LinkedIn = c.Social.LinkedIn
		wire.Twitter = c.Social.Twitter
		wire.Facebook = c.Social.Facebook
	}
	if c.Broadcast != nil {
		wire.WhatsAppMessage = c.Broadcast.Message
		wire.WhatsAppList = c.Broadcast.BroadcastList
	}
	if c.Drive != nil {
		wire.DriveFolderID = c.Drive.FolderID
		wire.DriveFolderURL = c.Drive.FolderURL
		wire.DriveFiles = c.Drive.Files
	}
	if c.Calendar != nil {
		wire.CalendarID = c.Calendar.EventID
		wire.CalendarURL = c.Calendar.EventURL
		wire.InviteSent = c.Calendar.InviteSent
	}
	if c.Task != nil {
		wire.TaskID = c.Task.TaskID
		wire.TaskURL = c.Task.TaskURL
		wire.ChecklistItems = c.Task.ChecklistItems
	}
	base, err := json.Marshal(wire)
	if err != nil {
		return nil, err
	}
	if len(c.Extra) == 0 {
		return base, nil
	}
	return mergeFlatJSON(base, c.Extra, knownContentKeys)
}

// UnmarshalJSON groups the flat wire map into typed sections. A section
// is materialised when at least one of its keys carries a non-zero
// value; unknown keys land in Extra.
func (c *GeneratedContent) UnmarshalJSON(data []byte) error {
	var wire contentWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*c = GeneratedContent{}
	if wire.FlyerURL != "" || wire.FlyerCanvaID != "" || wire.FlyerDesignNotes != "" {
		c.Flyer = &FlyerContent{URL: wire.FlyerURL, CanvaID: wire.FlyerCanvaID, DesignNotes: wire.FlyerDesignNotes}
	}
	if wire.Instagram != "" || wire.LinkedIn != "" || wire.Twitter != "" || wire.Facebook != "" {
		c.Social = &SocialContent{Instagram: wire.Instagram, LinkedIn: wire.LinkedIn, Twitter: wire.Twitter, Facebook: wire.Facebook}
	}
	if wire.WhatsAppMessage != "" || len(wire.WhatsAppList) > 0 {
		c.Broadcast = &BroadcastContent{Message: wire.WhatsAppMessage, BroadcastList: wire.WhatsAppList}
	}
	if wire.DriveFolderID != "" || wire.DriveFolderURL != "" || len(wire.DriveFiles) > 0 {
		c.Drive = &DriveContent{FolderID: wire.DriveFolderID, FolderURL: wire.DriveFolderURL, Files: wire.DriveFiles}
	}
	if wire.CalendarID != "" || wire.CalendarURL != "" || wire.InviteSent {
		c.Calendar = &CalendarContent{EventID: wire.CalendarID, EventURL: wire.CalendarURL, InviteSent: wire.InviteSent}
	}
	if wire.TaskID != "" || wire.TaskURL != "" || len(wire.ChecklistItems) > 0 {
		c.Task = &TaskContent{TaskID: wire.TaskID, TaskURL: wire.TaskURL, ChecklistItems: wire.ChecklistItems}
	}
	for k, v := range raw {
		if _, known := knownContentKeys[k]; known {
			continue
		}
		if c.Extra == nil {
			c.Extra = make(map[string]json.RawMessage)
		}
		c.Extra[k] = v
	}
	return nil
}

// ContentBundle is the durable, per-event accumulation of generated
// content. GenerationCount increments on every successful completion that
// delivered content and never decreases.
type ContentBundle struct {
	EventID         string           `json:"event_id"`
	Content         GeneratedContent `json:"content"`
	GenerationCount int64            `json:"generation_count"`
	LastRegenerated time.Time        `json:"last_regenerated"`
}
