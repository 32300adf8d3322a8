package offsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/coachscope/offsync/internal/apiclient"
)

type DispatchOutcome string

const (
	DispatchSynced  DispatchOutcome = "synced"
	DispatchSkipped DispatchOutcome = "skipped"
)

type DispatchFunc func(ctx context.Context, item QueueItem) error

const createSessionPartSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["name"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "is_default": {"type": "boolean"}
  }
}`

var payloadSchemas = map[MutationType]string{
	MutationCreateSessionPart: createSessionPartSchema,
}

// Dispatcher routes queued mutations to their delivery handlers. Types with no
// registered handler are skipped, not failed: a queue written by a newer build
// must survive being drained by an older one. Payloads are validated against
// the type's JSON schema before the handler runs, so malformed items burn
// their retries instead of poisoning the handler.
type Dispatcher struct {
	handlers map[MutationType]DispatchFunc
	schemas  map[MutationType]*jsonschema.Schema
}

func NewDispatcher() *Dispatcher {
	d := &Dispatcher{
		handlers: map[MutationType]DispatchFunc{},
		schemas:  map[MutationType]*jsonschema.Schema{},
	}
	compiler := jsonschema.NewCompiler()
	for mutation, raw := range payloadSchemas {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(raw)))
		if err != nil {
			panic(fmt.Sprintf("offsync: bad embedded schema for %s: %v", mutation, err))
		}
		url := fmt.Sprintf("offsync:///%s.json", mutation)
		if err := compiler.AddResource(url, doc); err != nil {
			panic(fmt.Sprintf("offsync: bad embedded schema for %s: %v", mutation, err))
		}
		sch, err := compiler.Compile(url)
		if err != nil {
			panic(fmt.Sprintf("offsync: bad embedded schema for %s: %v", mutation, err))
		}
		d.schemas[mutation] = sch
	}
	return d
}

func (d *Dispatcher) Register(mutation MutationType, fn DispatchFunc) {
	if d == nil || fn == nil {
		return
	}
	d.handlers[mutation] = fn
}

// Dispatch delivers one item. (DispatchSkipped, nil) means the item has no
// handler and should be left alone; an error means the attempt failed and
// counts against the item's retries.
func (d *Dispatcher) Dispatch(ctx context.Context, item QueueItem) (DispatchOutcome, error) {
	fn, ok := d.handlers[item.Type]
	if !ok {
		return DispatchSkipped, nil
	}
	if sch, ok := d.schemas[item.Type]; ok {
		inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(item.Payload))
		if err != nil {
			return "", fmt.Errorf("payload for %s is not valid JSON: %w", item.Type, err)
		}
		if err := sch.Validate(inst); err != nil {
			return "", fmt.Errorf("payload for %s failed validation: %w", item.Type, err)
		}
	}
	if err := fn(ctx, item); err != nil {
		return "", err
	}
	return DispatchSynced, nil
}

// NewPlatformDispatcher builds the production dispatcher: every mutation type
// the platform API currently accepts gets a handler backed by client.
func NewPlatformDispatcher(client *apiclient.Client) *Dispatcher {
	d := NewDispatcher()
	d.Register(MutationCreateSessionPart, func(ctx context.Context, item QueueItem) error {
		var req apiclient.CreateSessionPartRequest
		if err := json.Unmarshal(item.Payload, &req); err != nil {
			return fmt.Errorf("decode session part payload: %w", err)
		}
		_, err := client.CreateSessionPart(ctx, req)
		return err
	})
	return d
}
