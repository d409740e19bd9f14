package errors

import (
	"errors"
	"net/http"
	"syscall"

	"github.com/kartikbazzad/bunbase/bunstore/engine"
)

// Category groups store failures by how a caller should react to them.
type Category string

const (
	CategoryOK          Category = "ok"
	CategoryConstraint  Category = "constraint"  // unique index violated
	CategoryInvalid     Category = "invalid"     // bad query, field, modifier, cursor or schema
	CategoryCorrupt     Category = "corrupt"     // datafile unreadable
	CategoryUnavailable Category = "unavailable" // store closed or storage failing
	CategoryInternal    Category = "internal"
)

// Classify determines the category of an error. nil is CategoryOK.
func Classify(err error) Category {
	if err == nil {
		return CategoryOK
	}

	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Category != "" {
		return Category(appErr.Category)
	}

	switch engine.KindOf(err) {
	case engine.KindUniqueViolated:
		return CategoryConstraint
	case engine.KindInvalidField, engine.KindInvalidQuery, engine.KindInvalidModifier,
		engine.KindInvalidCursor, engine.KindSchemaViolation:
		return CategoryInvalid
	case engine.KindCorrupt:
		return CategoryCorrupt
	case engine.KindClosed, engine.KindIO:
		return CategoryUnavailable
	}

	// Check for system-level errors
	var sysErr syscall.Errno
	if errors.As(err, &sysErr) {
		switch sysErr {
		case syscall.EIO, syscall.ENOSPC, syscall.EROFS:
			return CategoryUnavailable
		}
	}
	return CategoryInternal
}

var categoryStatus = map[Category]int{
	CategoryOK:          http.StatusOK,
	CategoryConstraint:  http.StatusConflict,
	CategoryInvalid:     http.StatusBadRequest,
	CategoryCorrupt:     http.StatusInternalServerError,
	CategoryUnavailable: http.StatusServiceUnavailable,
	CategoryInternal:    http.StatusInternalServerError,
}

// StatusCode maps a category to the HTTP status reported for it.
func (c Category) StatusCode() int {
	if code, ok := categoryStatus[c]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// FromEngine wraps an error returned by the store into an AppError. An
// *AppError is returned as is.
func FromEngine(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	cat := Classify(err)
	msg := err.Error()
	if cat == CategoryInternal {
		msg = "Internal Server Error"
	}
	return &AppError{
		Code:     cat.StatusCode(),
		Category: string(cat),
		Message:  msg,
		Err:      err,
	}
}
