/*
Copyright 2024 Skiddly Authors.

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

// Package analyzer turns call transcripts into classified outcomes.
package analyzer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/skiddly/skiddly/model"
)

// ClassificationRequest is what a Classifier receives for one call.
type ClassificationRequest struct {
	Transcript  string    `json:"transcript"`
	EndedReason string    `json:"endedReason"`
	AsOf        time.Time `json:"asOf"`
}

// Classifier is an upstream transcript classification provider.
// Implementations return *ClassificationUnavailableError for any failure, including unparseable output.
type Classifier interface {
	Classify(ctx context.Context, req ClassificationRequest) (*model.AnalysisResult, error)
}

// ClassificationUnavailableError means the provider could not produce a usable classification.
type ClassificationUnavailableError struct {
	Cause error
}

func (e *ClassificationUnavailableError) Error() string {
	return fmt.Sprintf("classification unavailable: %v", e.Cause)
}

func (e *ClassificationUnavailableError) Unwrap() error {
	return e.Cause
}

func unavailable(format string, args ...interface{}) error {
	return &ClassificationUnavailableError{Cause: fmt.Errorf(format, args...)}
}

// Analyzer classifies transcripts and always returns a result.
type Analyzer struct {
	classifier Classifier
}

// New returns an Analyzer. A nil classifier makes every analysis use the fallback path.
func New(classifier Classifier) *Analyzer {
	return &Analyzer{classifier: classifier}
}

// Analyze classifies a call. It never returns nil: empty transcripts, provider errors and
// outcomes outside the enum all resolve through the endedReason fallback.
func (a *Analyzer) Analyze(ctx context.Context, transcript, endedReason string, asOf time.Time) *model.AnalysisResult {
	ctx, span := otel.Tracer("skiddly.analyzer").Start(ctx, "Analyze transcript")
	defer span.End()

	if strings.TrimSpace(transcript) == "" {
		return Fallback(endedReason)
	}
	if a == nil || a.classifier == nil {
		return Fallback(endedReason)
	}

	result, err := a.classifier.Classify(ctx, ClassificationRequest{
		Transcript:  transcript,
		EndedReason: endedReason,
		AsOf:        asOf,
	})
	if err != nil {
		span.RecordError(err)
		logrus.WithError(err).WithField("ended_reason", endedReason).Warn("transcript classification failed, using fallback")
		return Fallback(endedReason)
	}
	if result == nil || !result.Outcome.IsValid() {
		outcome := ""
		if result != nil {
			outcome = string(result.Outcome)
		}
		logrus.WithField("outcome", outcome).Warn("classifier returned an outcome outside the enum, using fallback")
		fb := Fallback(endedReason)
		if result != nil && result.Summary != "" {
			fb.Summary = result.Summary
		}
		return fb
	}

	result.AnalysisMethod = model.AnalysisMethodFull
	if result.Outcome == model.OutcomeRescheduleRequest {
		result.StructuredData.RescheduleRequested = true
	}
	if result.StructuredData.RescheduleRequested {
		fillReschedule(&result.StructuredData, transcript)
	}
	return result
}

// fillReschedule completes missing reschedule fields from the transcript text.
func fillReschedule(sd *model.StructuredData, transcript string) {
	found := ExtractReschedule(transcript)
	if sd.RescheduleTime == "" {
		sd.RescheduleTime = found.RescheduleTime
	}
	if sd.RescheduleDate == "" {
		sd.RescheduleDate = found.RescheduleDate
	}
	if sd.RescheduleTimezone == "" {
		sd.RescheduleTimezone = found.RescheduleTimezone
	}
	if sd.RelativeTime == "" {
		sd.RelativeTime = found.RelativeTime
	}
}
