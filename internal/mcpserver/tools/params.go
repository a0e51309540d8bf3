package tools

import (
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"strconv"
)

const (
	defaultPerPage = 30
	maxPerPage     = 200
)

// sportTypes lists the values Strava accepts for sport_type on update
var sportTypes = []string{
	"AlpineSki", "BackcountrySki", "Badminton", "Canoeing", "Crossfit", "EBikeRide",
	"Elliptical", "EMountainBikeRide", "Golf", "GravelRide", "Handcycle", "HighIntensityIntervalTraining",
	"Hike", "IceSkate", "InlineSkate", "Kayaking", "Kitesurf", "MountainBikeRide", "NordicSki",
	"Pickleball", "Pilates", "Racquetball", "Ride", "RockClimbing", "RollerSki", "Rowing", "Run",
	"Sail", "Skateboard", "Snowboard", "Snowshoe", "Soccer", "Squash", "StairStepper",
	"StandUpPaddling", "Surfing", "Swim", "TableTennis", "Tennis", "TrailRun", "Velomobile",
	"VirtualRide", "VirtualRow", "VirtualRun", "Walk", "WeightTraining", "Wheelchair",
	"Windsurf", "Workout", "Yoga",
}

// decodeParams unmarshals tool arguments; empty arguments leave dst unchanged
func decodeParams(raw json.RawMessage, dst interface{ Validate() error }) error {
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, dst); err != nil {
			return NewToolError(ErrCodeInvalidParams, "Invalid parameters: "+err.Error(), nil)
		}
	}
	if err := dst.Validate(); err != nil {
		return NewToolError(ErrCodeInvalidParams, err.Error(), nil)
	}
	return nil
}

type AddParams struct {
	A *float64 `json:"a"`
	B *float64 `json:"b"`
}

func (p *AddParams) Validate() error {
	if p.A == nil || p.B == nil {
		return fmt.Errorf("a and b are required")
	}
	return nil
}

type NoParams struct{}

func (p *NoParams) Validate() error { return nil }

// PageParams is the pagination shared by list tools
type PageParams struct {
	Page    *int `json:"page,omitempty"`
	PerPage *int `json:"perPage,omitempty"`
}

func (p *PageParams) Validate() error {
	if p.Page != nil && *p.Page < 1 {
		return fmt.Errorf("page must be at least 1")
	}
	if p.PerPage != nil && (*p.PerPage < 1 || *p.PerPage > maxPerPage) {
		return fmt.Errorf("perPage must be between 1 and %d", maxPerPage)
	}
	return nil
}

// query encodes page and per_page with defaults
func (p *PageParams) query() url.Values {
	q := url.Values{}
	page, perPage := 1, defaultPerPage
	if p.Page != nil {
		page = *p.Page
	}
	if p.PerPage != nil {
		perPage = *p.PerPage
	}
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))
	return q
}

type ListActivitiesParams struct {
	PageParams
	// Unix timestamps bounding start_date
	Before *int64 `json:"before,omitempty"`
	After  *int64 `json:"after,omitempty"`
}

func (p *ListActivitiesParams) Validate() error {
	if err := p.PageParams.Validate(); err != nil {
		return err
	}
	if p.Before != nil && p.After != nil && *p.After >= *p.Before {
		return fmt.Errorf("after must be earlier than before")
	}
	return nil
}

func (p *ListActivitiesParams) query() url.Values {
	q := p.PageParams.query()
	if p.Before != nil {
		q.Set("before", strconv.FormatInt(*p.Before, 10))
	}
	if p.After != nil {
		q.Set("after", strconv.FormatInt(*p.After, 10))
	}
	return q
}

type IDParams struct {
	ID int64 `json:"id"`
}

func (p *IDParams) Validate() error {
	if p.ID <= 0 {
		return fmt.Errorf("id must be a positive integer")
	}
	return nil
}

type GetActivityParams struct {
	IDParams
	IncludeAllEfforts bool `json:"includeAllEfforts,omitempty"`
}

// UpdateActivityParams mirrors Strava's UpdatableActivity
type UpdateActivityParams struct {
	IDParams
	Name         *string `json:"name,omitempty"`
	Description  *string `json:"description,omitempty"`
	SportType    *string `json:"sportType,omitempty"`
	GearID       *string `json:"gearId,omitempty"`
	Commute      *bool   `json:"commute,omitempty"`
	Trainer      *bool   `json:"trainer,omitempty"`
	HideFromHome *bool   `json:"hideFromHome,omitempty"`
}

func (p *UpdateActivityParams) Validate() error {
	if err := p.IDParams.Validate(); err != nil {
		return err
	}
	if p.Name == nil && p.Description == nil && p.SportType == nil && p.GearID == nil &&
		p.Commute == nil && p.Trainer == nil && p.HideFromHome == nil {
		return fmt.Errorf("at least one field to update is required")
	}
	if p.Name != nil && *p.Name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if p.SportType != nil && !slices.Contains(sportTypes, *p.SportType) {
		return fmt.Errorf("unknown sportType %q", *p.SportType)
	}
	return nil
}

// body renders the Strava request body using its snake_case names
func (p *UpdateActivityParams) body() map[string]any {
	b := map[string]any{}
	if p.Name != nil {
		b["name"] = *p.Name
	}
	if p.Description != nil {
		b["description"] = *p.Description
	}
	if p.SportType != nil {
		b["sport_type"] = *p.SportType
	}
	if p.GearID != nil {
		b["gear_id"] = *p.GearID
	}
	if p.Commute != nil {
		b["commute"] = *p.Commute
	}
	if p.Trainer != nil {
		b["trainer"] = *p.Trainer
	}
	if p.HideFromHome != nil {
		b["hide_from_home"] = *p.HideFromHome
	}
	return b
}
