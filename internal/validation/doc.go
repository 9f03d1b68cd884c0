// Millwright - Factory Floor Telemetry Sync and Live Notifications
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/millwright

// Package validation provides struct validation using go-playground/validator v10.
//
// This package wraps the go-playground/validator library to provide a
// thread-safe singleton validator instance with custom validators and
// user-friendly error messages. It integrates with the application's API
// error format for consistent error responses.
//
// # Overview
//
// The package provides:
//   - Thread-safe singleton validator (initialized once, cached struct info)
//   - Custom "clock" validator for HH:MM shift boundary strings
//   - Error translation to human-readable messages
//   - APIError conversion matching the application's error format
//   - Future v11 compatibility with WithRequiredStructEnabled
//
// # Quick Start
//
//	type notificationTestRequest struct {
//	    Severity string `validate:"omitempty,oneof=info warning critical"`
//	    Message  string `validate:"required,max=512"`
//	}
//
//	func handler(w http.ResponseWriter, r *http.Request) {
//	    var req notificationTestRequest
//	    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
//	        // handle decode error
//	    }
//
//	    if verr := validation.ValidateStruct(&req); verr != nil {
//	        apiErr := verr.ToAPIError()
//	        respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
//	        return
//	    }
//
//	    // proceed with valid request
//	}
//
// # Common Validation Tags
//
// String validations:
//   - required: Field must not be empty
//   - min=n: Minimum length n characters
//   - max=n: Maximum length n characters
//   - datetime=layout: Value parses against the layout
//   - clock: HH:MM 24-hour wall-clock value (custom)
//
// Numeric validations:
//   - gte=n / lte=n / gt=n / lt=n: Range bounds
//   - min=n / max=n: Minimum and maximum value
//
// Enum validations:
//   - oneof=a b c: Must be one of the specified values
//
// # Callers
//
// The three validation surfaces in the application:
//   - internal/config validates the loaded Config tree at startup, using
//     "clock" for the day-shift boundary strings
//   - internal/api validates request bodies before acting on them
//   - internal/sensor validates decoded cut-event payloads before insert
//
// # API Error Integration
//
// ToAPIError produces errors matching the envelope format:
//
//	// Single field error
//	{
//	    "code": "VALIDATION_ERROR",
//	    "message": "Message is required",
//	    "details": {"field": "Message", "tag": "required", "value": ""}
//	}
//
//	// Multiple field errors
//	{
//	    "code": "VALIDATION_ERROR",
//	    "message": "Severity: must be one of: info warning critical; Message: required",
//	    "details": {
//	        "fields": [
//	            {"field": "Severity", "tag": "oneof", "message": "..."},
//	            {"field": "Message", "tag": "required", "message": "..."}
//	        ]
//	    }
//	}
//
// # Thread Safety
//
// The singleton validator is initialized once and safe for concurrent use:
//
//	validate := validation.GetValidator()  // Thread-safe
//	err := validation.ValidateStruct(&req) // Thread-safe
//
// # See Also
//
//   - internal/api: Request handlers using validation
//   - internal/config: Startup configuration validation
//   - github.com/go-playground/validator/v10: Underlying library
package validation
