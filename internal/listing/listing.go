// Package listing defines the mod listing record and the pure filter and
// merge operations the supply pipeline is built from.
package listing

import "time"

// Listing is one discoverable mod record from the remote catalog. Catalog and
// ModID form the identity; everything else is optional because upstream
// records are routinely only partially published.
type Listing struct {
	Catalog          string     `json:"catalog"`
	ModID            int64      `json:"mod_id"`
	Name             string     `json:"name,omitempty"`
	Summary          string     `json:"summary,omitempty"`
	Description      string     `json:"description,omitempty"`
	PictureURL       string     `json:"picture_url,omitempty"`
	Author           string     `json:"author,omitempty"`
	Version          string     `json:"version,omitempty"`
	CategoryID       int        `json:"category_id,omitempty"`
	CreatedTime      *time.Time `json:"created_time,omitempty"`
	UpdatedTime      *time.Time `json:"updated_time,omitempty"`
	EndorsementCount int        `json:"endorsement_count,omitempty"`
	DownloadCount    int        `json:"download_count,omitempty"`
	Status           string     `json:"status,omitempty"`
	Available        *bool      `json:"available,omitempty"`
	Adult            bool       `json:"contains_adult_content,omitempty"`
}

// Displayable reports whether the listing has enough published content to be
// shown as a card: a name, at least one of picture or summary, a status of
// "published" (or none), and an availability flag that is absent or true.
func (l Listing) Displayable() bool {
	if l.Name == "" {
		return false
	}
	if l.PictureURL == "" && l.Summary == "" {
		return false
	}
	if l.Status != "" && l.Status != "published" {
		return false
	}
	if l.Available != nil && !*l.Available {
		return false
	}
	return true
}
