/*
Copyright 2024 The IBC Backlog Exporter Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package logging wraps logrus with the subset of the structured logging
// interface the exporter's packages need, so that callers depend on an
// interface rather than a concrete *logrus.Entry.
package logging

import "github.com/sirupsen/logrus"

// Logger is the structured logging interface used across the exporter.
type Logger interface {
	// WithField creates a new child logger with the specified field.
	WithField(key string, value interface{}) Logger
	// WithFields creates a new child logger with the specified fields.
	WithFields(fields logrus.Fields) Logger
	// WithError creates a new child logger with the specified error field.
	WithError(err error) Logger

	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})

	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
}

// New wraps a logrus entry as a Logger.
func New(entry *logrus.Entry) Logger {
	return logger{entry: entry}
}

// ForChain returns a Logger tagged with the given chain ID, the label
// carried on nearly every log line the scanner, REST client and backlog
// engine emit.
func ForChain(chainID string) Logger {
	return New(logrus.WithField("chain_id", chainID))
}

type logger struct {
	entry *logrus.Entry
}

func (r logger) WithField(key string, value interface{}) Logger {
	return New(r.entry.WithField(key, value))
}

func (r logger) WithFields(fields logrus.Fields) Logger {
	return New(r.entry.WithFields(fields))
}

func (r logger) WithError(err error) Logger {
	return New(r.entry.WithError(err))
}

func (r logger) Debugf(format string, args ...interface{}) { r.entry.Debugf(format, args...) }
func (r logger) Infof(format string, args ...interface{})  { r.entry.Infof(format, args...) }
func (r logger) Warnf(format string, args ...interface{})  { r.entry.Warnf(format, args...) }
func (r logger) Errorf(format string, args ...interface{}) { r.entry.Errorf(format, args...) }

func (r logger) Debug(args ...interface{}) { r.entry.Debug(args...) }
func (r logger) Info(args ...interface{})  { r.entry.Info(args...) }
func (r logger) Warn(args ...interface{})  { r.entry.Warn(args...) }
func (r logger) Error(args ...interface{}) { r.entry.Error(args...) }
