// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

package validation

import (
	"strings"
	"testing"
)

// ===================================================================================================
// Singleton Validator Tests
// ===================================================================================================

func TestGetValidator_Singleton(t *testing.T) {
	v1 := GetValidator()
	v2 := GetValidator()

	if v1 != v2 {
		t.Error("GetValidator() should return the same singleton instance")
	}

	if v1 == nil {
		t.Error("GetValidator() should not return nil")
	}
}

// ===================================================================================================
// ValidateStruct Tests
// ===================================================================================================

// addressRequest mirrors the shape of dataset write DTOs.
type addressRequest struct {
	Street      string `json:"street" validate:"required,max=200"`
	HouseNumber string `json:"houseNumber" validate:"required,max=50"`
	PostalCode  string `json:"postalCode" validate:"required,max=10"`
	City        string `json:"city" validate:"omitempty,max=100"`
}

func TestValidateStruct_Valid(t *testing.T) {
	tests := []struct {
		name  string
		input addressRequest
	}{
		{
			name: "all fields",
			input: addressRequest{
				Street:      "Hauptstraße",
				HouseNumber: "10a-10c",
				PostalCode:  "50937",
				City:        "Köln",
			},
		},
		{
			name: "city omitted",
			input: addressRequest{
				Street:      "Hauptstr.",
				HouseNumber: "1",
				PostalCode:  "50937",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateStruct(&tt.input); err != nil {
				t.Errorf("ValidateStruct() returned unexpected error: %v", err)
			}
		})
	}
}

func TestValidateStruct_Invalid(t *testing.T) {
	tests := []struct {
		name      string
		input     addressRequest
		wantField string
		wantTag   string
	}{
		{
			name: "missing street",
			input: addressRequest{
				HouseNumber: "1",
				PostalCode:  "50937",
			},
			wantField: "street",
			wantTag:   "required",
		},
		{
			name: "missing house number",
			input: addressRequest{
				Street:     "Hauptstraße",
				PostalCode: "50937",
			},
			wantField: "houseNumber",
			wantTag:   "required",
		},
		{
			name: "postal code too long",
			input: addressRequest{
				Street:      "Hauptstraße",
				HouseNumber: "1",
				PostalCode:  "50937-50939-50941",
			},
			wantField: "postalCode",
			wantTag:   "max",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(&tt.input)
			if err == nil {
				t.Fatal("ValidateStruct() should have returned an error")
			}

			errs := err.Errors()
			if len(errs) == 0 {
				t.Fatal("Expected at least one field error")
			}

			found := false
			for _, e := range errs {
				if e.Field() == tt.wantField && e.Tag() == tt.wantTag {
					found = true
					break
				}
			}

			if !found {
				t.Errorf("Expected error on field %s with tag %s, got: %v", tt.wantField, tt.wantTag, errs)
			}
		})
	}
}

// Field names in errors come from json tags so clients can match them
// against what they sent.
func TestValidateStruct_UsesJSONFieldNames(t *testing.T) {
	input := addressRequest{HouseNumber: "1", PostalCode: "50937"}

	err := ValidateStruct(&input)
	if err == nil {
		t.Fatal("Expected validation error")
	}

	errs := err.Errors()
	if len(errs) != 1 {
		t.Fatalf("Expected 1 error, got %d", len(errs))
	}
	if errs[0].Field() != "street" {
		t.Errorf("Expected json tag name street, got %q", errs[0].Field())
	}
}

// ===================================================================================================
// German Message Tests
// ===================================================================================================

func TestErrorMessages_German(t *testing.T) {
	tests := []struct {
		name    string
		input   interface{}
		wantMsg string
	}{
		{
			name:    "required",
			input:   &addressRequest{HouseNumber: "1", PostalCode: "50937"},
			wantMsg: "street ist ein Pflichtfeld",
		},
		{
			name: "oneof",
			input: &struct {
				Status string `json:"status" validate:"oneof=interested not_interested"`
			}{Status: "maybe"},
			wantMsg: "status muss einer der folgenden Werte sein: interested not_interested",
		},
		{
			name: "slice min",
			input: &struct {
				Points []int `json:"points" validate:"min=1"`
			}{},
			wantMsg: "points muss mindestens 1 Einträge enthalten",
		},
		{
			name: "string max",
			input: &struct {
				Notes string `json:"notes" validate:"max=3"`
			}{Notes: "lang"},
			wantMsg: "notes darf höchstens 3 Zeichen enthalten",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(tt.input)
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Expected message %q, got %q", tt.wantMsg, err.Error())
			}
		})
	}
}

// ===================================================================================================
// ToAPIError Tests
// ===================================================================================================

func TestToAPIError_SingleError(t *testing.T) {
	input := addressRequest{HouseNumber: "1", PostalCode: "50937"}

	err := ValidateStruct(&input)
	if err == nil {
		t.Fatal("Expected validation error")
	}

	apiErr := err.ToAPIError()

	if apiErr.Code != "VALIDATION_ERROR" {
		t.Errorf("Expected code VALIDATION_ERROR, got %s", apiErr.Code)
	}
	if apiErr.Message != "street ist ein Pflichtfeld" {
		t.Errorf("Unexpected message: %s", apiErr.Message)
	}
	if apiErr.Details["field"] != "street" {
		t.Errorf("Expected field detail street, got %v", apiErr.Details["field"])
	}
}

func TestToAPIError_MultipleErrors(t *testing.T) {
	input := addressRequest{}

	err := ValidateStruct(&input)
	if err == nil {
		t.Fatal("Expected validation error")
	}

	apiErr := err.ToAPIError()

	if apiErr.Code != "VALIDATION_ERROR" {
		t.Errorf("Expected code VALIDATION_ERROR, got %s", apiErr.Code)
	}

	fields, ok := apiErr.Details["fields"].([]map[string]interface{})
	if !ok {
		t.Fatalf("Expected fields detail, got %v", apiErr.Details)
	}
	if len(fields) != 3 {
		t.Errorf("Expected 3 field entries, got %d", len(fields))
	}
}

// ===================================================================================================
// Custom Validator Tests - Day Key
// ===================================================================================================

type dayKeyStruct struct {
	Date string `json:"date" validate:"omitempty,daykey"`
}

func TestDayKeyValidation_Valid(t *testing.T) {
	tests := []struct {
		name string
		date string
	}{
		{"empty", ""},
		{"typical day", "2026-08-20"},
		{"year boundary", "2026-01-01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := dayKeyStruct{Date: tt.date}
			if err := ValidateStruct(&input); err != nil {
				t.Errorf("ValidateStruct() returned unexpected error for date %q: %v", tt.date, err)
			}
		})
	}
}

func TestDayKeyValidation_Invalid(t *testing.T) {
	tests := []struct {
		name string
		date string
	}{
		{"german format", "20.08.2026"},
		{"missing zero padding", "2026-8-20"},
		{"with time", "2026-08-20T10:00:00Z"},
		{"garbage", "today"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := dayKeyStruct{Date: tt.date}
			if err := ValidateStruct(&input); err == nil {
				t.Errorf("ValidateStruct() should have returned error for date %q", tt.date)
			}
		})
	}
}

// ===================================================================================================
// Oneof Validation Tests
// ===================================================================================================

type statusStruct struct {
	Status string `json:"status" validate:"omitempty,oneof=interested not_interested not_reached appointment_scheduled written"`
}

func TestOneofValidation_Valid(t *testing.T) {
	for _, status := range []string{"", "interested", "not_interested", "not_reached", "appointment_scheduled", "written"} {
		input := statusStruct{Status: status}
		if err := ValidateStruct(&input); err != nil {
			t.Errorf("ValidateStruct() returned unexpected error for status %q: %v", status, err)
		}
	}
}

func TestOneofValidation_Invalid(t *testing.T) {
	for _, status := range []string{"maybe", "Interested", "writtenx"} {
		input := statusStruct{Status: status}
		if err := ValidateStruct(&input); err == nil {
			t.Errorf("ValidateStruct() should have returned error for status %q", status)
		}
	}
}

// ===================================================================================================
// Latitude/Longitude Validation Tests
// ===================================================================================================

type coordinatesStruct struct {
	Lat float64 `json:"lat" validate:"latitude"`
	Lon float64 `json:"lon" validate:"longitude"`
}

func TestCoordinateValidation_Valid(t *testing.T) {
	tests := []struct {
		name string
		lat  float64
		lon  float64
	}{
		{"origin", 0, 0},
		{"cologne", 50.9375, 6.9603},
		{"max lat", 90, 0},
		{"min lat", -90, 0},
		{"max lon", 0, 180},
		{"min lon", 0, -180},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := coordinatesStruct{Lat: tt.lat, Lon: tt.lon}
			if err := ValidateStruct(&input); err != nil {
				t.Errorf("ValidateStruct() returned unexpected error for lat=%f, lon=%f: %v", tt.lat, tt.lon, err)
			}
		})
	}
}

func TestCoordinateValidation_Invalid(t *testing.T) {
	tests := []struct {
		name string
		lat  float64
		lon  float64
	}{
		{"lat too high", 91, 0},
		{"lat too low", -91, 0},
		{"lon too high", 0, 181},
		{"lon too low", 0, -181},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := coordinatesStruct{Lat: tt.lat, Lon: tt.lon}
			if err := ValidateStruct(&input); err == nil {
				t.Errorf("ValidateStruct() should have returned error for lat=%f, lon=%f", tt.lat, tt.lon)
			}
		})
	}
}

// ===================================================================================================
// Nested Struct Tests
// ===================================================================================================

type residentRequest struct {
	Name     string `json:"name" validate:"required,max=200"`
	Category string `json:"category" validate:"required,oneof=existing_customer potential_new_customer clarification_needed"`
}

type nestedCreateRequest struct {
	Address   addressRequest    `json:"address" validate:"required"`
	Residents []residentRequest `json:"residents" validate:"omitempty,dive"`
}

func TestNestedStructValidation(t *testing.T) {
	valid := nestedCreateRequest{
		Address: addressRequest{Street: "Hauptstraße", HouseNumber: "1", PostalCode: "50937"},
		Residents: []residentRequest{
			{Name: "Schmidt", Category: "existing_customer"},
		},
	}
	if err := ValidateStruct(&valid); err != nil {
		t.Errorf("ValidateStruct() returned unexpected error for valid nested struct: %v", err)
	}

	invalid := nestedCreateRequest{
		Address: addressRequest{Street: "Hauptstraße", HouseNumber: "1", PostalCode: "50937"},
		Residents: []residentRequest{
			{Name: "Schmidt", Category: "vip"},
		},
	}
	err := ValidateStruct(&invalid)
	if err == nil {
		t.Fatal("ValidateStruct() should have returned error for invalid nested resident")
	}
	errs := err.Errors()
	if len(errs) != 1 || errs[0].Tag() != "oneof" {
		t.Errorf("Expected a single oneof error, got %v", errs)
	}
}
