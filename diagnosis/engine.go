// Package diagnosis turns telemetry into operator guidance: structured
// diagnostic reports, conversational answers, and repair checklists, all
// grounded in manual extracts retrieved for the case at hand.
package diagnosis

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/hydrasense/volute/chat"
	"github.com/hydrasense/volute/llm"
	"github.com/hydrasense/volute/retrieval"
	"github.com/hydrasense/volute/safety"
	"github.com/hydrasense/volute/store"
	"github.com/hydrasense/volute/twin"
)

// ErrNoSample reports that an operation requiring telemetry was invoked
// with none available.
var ErrNoSample = errors.New("no telemetry sample available")

// Engine composes prompts and delegates generation. It is stateless; all
// inputs arrive per call.
type Engine struct {
	limits  safety.Limits
	querier retrieval.Querier
	chat    llm.Chat
}

func NewEngine(limits safety.Limits, querier retrieval.Querier, chat llm.Chat) *Engine {
	return &Engine{limits: limits, querier: querier, chat: chat}
}

// Reference points a report back into the manual.
type Reference struct {
	Page  int     `json:"page"`
	Score float64 `json:"score"`
}

// Report is the result of one diagnosis.
type Report struct {
	Diagnosis     string          `json:"diagnosis"`
	Decision      safety.Decision `json:"shutdown_decision"`
	References    []Reference     `json:"references"`
	FaultDetected bool            `json:"fault_detected"`
}

// Diagnose classifies the sample, retrieves manual context for its
// anomalies, and asks the model for a four-section report.
func (e *Engine) Diagnose(ctx context.Context, sample *twin.Sample) (Report, error) {
	if sample == nil {
		return Report{}, ErrNoSample
	}

	var decision = safety.Evaluate(*sample, e.limits)
	var chunks = e.retrieve(ctx, anomalyQuery(*sample, e.limits), 3)

	var text, err = e.chat.Complete(ctx, diagnosePrompt(*sample, chunks),
		llm.WithTemperature(0.3), llm.WithMaxTokens(1024))
	if err != nil {
		requestsTotal.WithLabelValues("diagnose", "error").Inc()
		return Report{}, fmt.Errorf("diagnose: %w", err)
	}
	requestsTotal.WithLabelValues("diagnose", "ok").Inc()

	var refs = make([]Reference, len(chunks))
	for i, c := range chunks {
		refs[i] = Reference{Page: c.Page, Score: c.Score}
	}
	return Report{
		Diagnosis:     text,
		Decision:      decision,
		References:    refs,
		FaultDetected: decision.Urgency != safety.UrgencyOk,
	}, nil
}

// Ask answers a free-form operator question against the retrieved manual
// context, the current sample and fault onset when provided, and the
// trailing conversation history. Report-shaped replies are reduced to
// their actionable bullets.
func (e *Engine) Ask(ctx context.Context, question string, sample *twin.Sample, faultCtx *store.FaultContext, history []chat.Entry) (string, error) {
	var chunks = e.retrieve(ctx, question, 3)

	var reply, err = e.chat.Complete(ctx, askPrompt(question, sample, faultCtx, history, chunks),
		llm.WithTemperature(0.3), llm.WithMaxTokens(1024))
	if err != nil {
		requestsTotal.WithLabelValues("ask", "error").Inc()
		return "", fmt.Errorf("ask: %w", err)
	}
	requestsTotal.WithLabelValues("ask", "ok").Inc()
	return filterReply(question, reply), nil
}

// Checklist produces an ordered repair checklist for a fault type,
// optionally informed by current telemetry and a prior diagnosis.
func (e *Engine) Checklist(ctx context.Context, fault twin.FaultState, sample *twin.Sample, diagnosis string) ([]Step, error) {
	var query = fmt.Sprintf("%s repair steps troubleshooting procedure", fault.Humanize())
	var chunks = e.retrieve(ctx, query, 4)

	var reply, err = e.chat.Complete(ctx, checklistPrompt(fault, sample, diagnosis, chunks),
		llm.WithTemperature(0.2), llm.WithMaxTokens(512))
	if err != nil {
		requestsTotal.WithLabelValues("checklist", "error").Inc()
		return nil, fmt.Errorf("checklist: %w", err)
	}
	requestsTotal.WithLabelValues("checklist", "ok").Inc()

	var steps = parseChecklist(reply)
	if len(steps) == 0 {
		log.WithField("reply", reply).Warn("checklist reply had no parseable items")
	}
	return steps, nil
}

// retrieve degrades every retrieval failure to an empty context: the model
// can still reason from telemetry alone, and a transient embedding outage
// must not take diagnosis down with it.
func (e *Engine) retrieve(ctx context.Context, query string, k int) []retrieval.Result {
	var results, err = e.querier.Query(ctx, query, k)
	if err != nil {
		log.WithFields(log.Fields{
			"query": query,
			"error": err,
		}).Warn("retrieval degraded to empty context")
		degradedTotal.Inc()
		return nil
	}
	return results
}
