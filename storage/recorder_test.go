// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"axonflow/taskrouter/router"
)

// TestNewRecorder tests recorder creation
func TestNewRecorder(t *testing.T) {
	recorder := NewRecorder(nil)
	if recorder == nil {
		t.Error("NewRecorder() returned nil")
	}
	if recorder.db != nil {
		t.Error("Expected nil database connection in unit test")
	}
}

// TestNullString tests the nullString helper function
func TestNullString(t *testing.T) {
	tests := []struct {
		name  string
		input string
		isNil bool
	}{
		{"Empty string returns nil", "", true},
		{"Non-empty string returns pointer", "test", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := nullString(tt.input)
			if tt.isNil && result != nil {
				t.Errorf("nullString(%q) should return nil", tt.input)
			}
			if !tt.isNil && result == nil {
				t.Errorf("nullString(%q) should not return nil", tt.input)
			}
			if !tt.isNil && *result != tt.input {
				t.Errorf("nullString(%q) = %q, want %q", tt.input, *result, tt.input)
			}
		})
	}
}

// TestRecordAttempt tests the RecordAttempt function with sqlmock
func TestRecordAttempt(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock: %v", err)
	}
	defer db.Close()

	recorder := NewRecorder(db)

	started := time.Now()
	ended := started.Add(250 * time.Millisecond)
	attempt := router.ExecutionAttempt{
		TaskID:     "task-123",
		PlatformID: "claude-primary",
		Index:      0,
		StartedAt:  started,
		EndedAt:    ended,
		Outcome:    router.OutcomeSuccess,
	}

	mock.ExpectExec("INSERT INTO task_attempts").
		WithArgs("task-123", "claude-primary", 0, "success", nil,
			started, ended, int64(250)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := recorder.RecordAttempt(context.Background(), attempt); err != nil {
		t.Errorf("RecordAttempt() error = %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}

// TestRecordAttempt_WithError tests that attempt errors are persisted
func TestRecordAttempt_WithError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock: %v", err)
	}
	defer db.Close()

	recorder := NewRecorder(db)

	started := time.Now()
	attempt := router.ExecutionAttempt{
		TaskID:     "task-123",
		PlatformID: "gpt-backup",
		Index:      1,
		StartedAt:  started,
		EndedAt:    started,
		Outcome:    router.OutcomeFailure,
		Error:      "upstream 500",
	}

	reason := "upstream 500"
	mock.ExpectExec("INSERT INTO task_attempts").
		WithArgs("task-123", "gpt-backup", 1, "failure", &reason,
			started, started, int64(0)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := recorder.RecordAttempt(context.Background(), attempt); err != nil {
		t.Errorf("RecordAttempt() error = %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}

// TestRecordTask tests the RecordTask function with sqlmock
func TestRecordTask(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock: %v", err)
	}
	defer db.Close()

	recorder := NewRecorder(db)

	result := router.TaskResult{
		TaskID:     "task-123",
		PlatformID: "claude-primary",
		Cost:       1.35,
		Quality:    0.9,
		Handoffs:   1,
	}

	platformID := "claude-primary"
	mock.ExpectExec("INSERT INTO task_results").
		WithArgs("task-123", &platformID, 135, 0.9, false, 1).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := recorder.RecordTask(context.Background(), result); err != nil {
		t.Errorf("RecordTask() error = %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}

// TestRecordTask_Error tests error handling in RecordTask
func TestRecordTask_Error(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock: %v", err)
	}
	defer db.Close()

	recorder := NewRecorder(db)

	mock.ExpectExec("INSERT INTO task_results").
		WillReturnError(sqlmock.ErrCancelled)

	if err := recorder.RecordTask(context.Background(), router.TaskResult{TaskID: "t"}); err == nil {
		t.Error("Expected error from RecordTask")
	}
}

// TestPlatformSpend tests the aggregation query with sqlmock
func TestPlatformSpend(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock: %v", err)
	}
	defer db.Close()

	recorder := NewRecorder(db)

	since := time.Now().Add(-24 * time.Hour)
	rows := sqlmock.NewRows([]string{"platform_id", "sum"}).
		AddRow("claude-primary", 1250).
		AddRow("gpt-backup", 300)
	mock.ExpectQuery("SELECT platform_id").
		WithArgs(since).
		WillReturnRows(rows)

	spend, err := recorder.PlatformSpend(context.Background(), since)
	if err != nil {
		t.Fatalf("PlatformSpend() error = %v", err)
	}

	if spend["claude-primary"] != 1250 {
		t.Errorf("Expected claude-primary spend 1250, got %d", spend["claude-primary"])
	}
	if spend["gpt-backup"] != 300 {
		t.Errorf("Expected gpt-backup spend 300, got %d", spend["gpt-backup"])
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}
