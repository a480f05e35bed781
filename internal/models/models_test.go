// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

package models

import (
	"testing"
	"time"
)

func TestResidentApplyStatusRule(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		resident   Resident
		wantStatus string
	}{
		{
			name:       "status kept for potential new customer",
			resident:   Resident{Name: "Kaiser", Category: CategoryPotentialNewCustomer, Status: StatusInterested},
			wantStatus: StatusInterested,
		},
		{
			name:       "status cleared for existing customer",
			resident:   Resident{Name: "Weber", Category: CategoryExistingCustomer, Status: StatusInterested},
			wantStatus: "",
		},
		{
			name:       "status cleared for clarification needed",
			resident:   Resident{Name: "Schmidt", Category: CategoryClarificationNeeded, Status: StatusNotReached},
			wantStatus: "",
		},
		{
			name:       "empty status untouched",
			resident:   Resident{Name: "Müller", Category: CategoryExistingCustomer},
			wantStatus: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := tt.resident
			r.ApplyStatusRule()
			if r.Status != tt.wantStatus {
				t.Errorf("ApplyStatusRule() status = %q, want %q", r.Status, tt.wantStatus)
			}
		})
	}
}

func TestAddressDatasetEditableBy(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	window := 30 * 24 * time.Hour

	tests := []struct {
		name      string
		createdBy string
		createdAt time.Time
		user      string
		want      bool
	}{
		{
			name:      "creator within window",
			createdBy: "damian",
			createdAt: now.Add(-24 * time.Hour),
			user:      "damian",
			want:      true,
		},
		{
			name:      "other user within window",
			createdBy: "damian",
			createdAt: now.Add(-24 * time.Hour),
			user:      "lena",
			want:      false,
		},
		{
			name:      "creator just inside boundary",
			createdBy: "damian",
			createdAt: now.Add(-window + time.Millisecond),
			user:      "damian",
			want:      true,
		},
		{
			name:      "creator just outside boundary",
			createdBy: "damian",
			createdAt: now.Add(-window - time.Millisecond),
			user:      "damian",
			want:      false,
		},
		{
			name:      "future skewed timestamp within window",
			createdBy: "damian",
			createdAt: now.Add(12 * time.Hour),
			user:      "damian",
			want:      true,
		},
		{
			name:      "future skewed timestamp outside window",
			createdBy: "damian",
			createdAt: now.Add(window + time.Hour),
			user:      "damian",
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := &AddressDataset{CreatedBy: tt.createdBy, CreatedAt: tt.createdAt}
			if got := d.EditableBy(tt.user, now, window); got != tt.want {
				t.Errorf("EditableBy() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAddressDatasetClone(t *testing.T) {
	t.Parallel()

	orig := &AddressDataset{
		ID:                "1700000000000-abc123",
		NormalizedAddress: "Hauptstrasse 5, 50667 Köln",
		EditableResidents: []Resident{{Name: "Müller", Category: CategoryExistingCustomer}},
		RawResidentData:   []byte(`{"frame":"x"}`),
	}

	clone := orig.Clone()
	clone.EditableResidents[0].Name = "changed"
	clone.RawResidentData[0] = 'X'
	clone.CanEdit = true

	if orig.EditableResidents[0].Name != "Müller" {
		t.Error("Clone() shares resident slice with original")
	}
	if orig.RawResidentData[0] != '{' {
		t.Error("Clone() shares raw blob with original")
	}
	if orig.CanEdit {
		t.Error("Clone() shares scalar state with original")
	}
}

func TestLocationPointValid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		point LocationPoint
		want  bool
	}{
		{"plausible fix", LocationPoint{Latitude: 50.94, Longitude: 6.96}, true},
		{"zero latitude sentinel", LocationPoint{Latitude: 0, Longitude: 6.96}, false},
		{"near zero longitude sentinel", LocationPoint{Latitude: 50.94, Longitude: 0.0004}, false},
		{"negative near zero longitude", LocationPoint{Latitude: 50.94, Longitude: -0.0004}, false},
		{"null island", LocationPoint{Latitude: 0, Longitude: 0}, false},
		{"western hemisphere", LocationPoint{Latitude: 40.7, Longitude: -74.0}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := tt.point
			if got := p.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}
