// Package manifest parses and validates the JSON flash program (spec
// §3, §4.D): an ordered list of typed Steps plus a metadata header and
// an optional variable table.
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"

	"flashthing/internal/flasherr"
)

const supportedMetadataVersion = 1

// Program is an ordered, immutable-after-parse sequence of Steps with a
// metadata header and variable table (spec §3).
type Program struct {
	Name            string
	Version         string
	Description     string
	MetadataVersion int
	// Variables is carried through to step evaluation verbatim but read
	// by no currently-implemented step (spec §9); it exists so a future
	// step kind can substitute ${name} without touching the protocol
	// layer.
	Variables map[string]int64
	Steps     []Step
}

var topLevelKeys = map[string]bool{
	"name": true, "version": true, "description": true,
	"metadataVersion": true, "variables": true, "steps": true,
}

// Parse validates and decodes program JSON, matching the meta-schema
// referenced in spec §4.D/§6. Errors are flasherr.ManifestError with a
// JSON-pointer location.
func Parse(data []byte) (*Program, error) {
	var topRaw map[string]json.RawMessage
	if err := strictUnmarshal(data, &topRaw); err != nil {
		return nil, &flasherr.ManifestError{Pointer: "", Detail: err.Error()}
	}

	for key := range topRaw {
		if !topLevelKeys[key] {
			return nil, &flasherr.ManifestError{Pointer: "/" + key, Detail: "unknown top-level key"}
		}
	}

	p := &Program{}

	if raw, ok := topRaw["name"]; ok {
		if err := json.Unmarshal(raw, &p.Name); err != nil {
			return nil, &flasherr.ManifestError{Pointer: "/name", Detail: err.Error()}
		}
	}
	if raw, ok := topRaw["version"]; ok {
		if err := json.Unmarshal(raw, &p.Version); err != nil {
			return nil, &flasherr.ManifestError{Pointer: "/version", Detail: err.Error()}
		}
	}
	if raw, ok := topRaw["description"]; ok {
		if err := json.Unmarshal(raw, &p.Description); err != nil {
			return nil, &flasherr.ManifestError{Pointer: "/description", Detail: err.Error()}
		}
	}

	if raw, ok := topRaw["metadataVersion"]; ok {
		if err := json.Unmarshal(raw, &p.MetadataVersion); err != nil {
			return nil, &flasherr.ManifestError{Pointer: "/metadataVersion", Detail: err.Error()}
		}
	}
	if p.MetadataVersion != supportedMetadataVersion {
		return nil, &flasherr.ManifestError{
			Pointer: "/metadataVersion",
			Detail:  fmt.Sprintf("must equal %d, got %d", supportedMetadataVersion, p.MetadataVersion),
		}
	}

	if raw, ok := topRaw["variables"]; ok {
		var vars map[string]FlexUint
		if err := json.Unmarshal(raw, &vars); err != nil {
			return nil, &flasherr.ManifestError{Pointer: "/variables", Detail: err.Error()}
		}
		p.Variables = make(map[string]int64, len(vars))
		for k, v := range vars {
			p.Variables[k] = int64(v.Uint64())
		}
	}

	var stepsRaw []json.RawMessage
	if raw, ok := topRaw["steps"]; ok {
		if err := json.Unmarshal(raw, &stepsRaw); err != nil {
			return nil, &flasherr.ManifestError{Pointer: "/steps", Detail: err.Error()}
		}
	}

	p.Steps = make([]Step, 0, len(stepsRaw))
	for i, raw := range stepsRaw {
		step, err := parseStep(raw, i)
		if err != nil {
			return nil, err
		}
		p.Steps = append(p.Steps, step)
	}

	return p, nil
}

func parseStep(raw json.RawMessage, index int) (Step, error) {
	pointer := fmt.Sprintf("/steps/%d", index)

	var stub struct {
		Type StepKind `json:"type"`
	}
	if err := json.Unmarshal(raw, &stub); err != nil {
		return Step{}, &flasherr.ManifestError{Pointer: pointer, Detail: err.Error()}
	}
	if stub.Type == "" {
		return Step{}, &flasherr.ManifestError{Pointer: pointer + "/type", Detail: "missing step type"}
	}
	if !stub.Type.isKnown() {
		return Step{}, &flasherr.ManifestError{Pointer: pointer + "/type", Detail: fmt.Sprintf("unknown step type %q", stub.Type)}
	}

	if stub.Type.IsUnsupported() {
		// Parseable for forward compatibility; payload shape is not
		// validated beyond being valid JSON (spec §3).
		return Step{Kind: stub.Type, Payload: nil}, nil
	}

	payload, err := decodeStepPayload(stub.Type, raw)
	if err != nil {
		return Step{}, &flasherr.ManifestError{Pointer: pointer, Detail: err.Error()}
	}
	return Step{Kind: stub.Type, Payload: payload}, nil
}

func decodeStepPayload(kind StepKind, raw json.RawMessage) (any, error) {
	switch kind {
	case KindBulkCmd:
		var p BulkCmdPayload
		return p, strictUnmarshalAllowing(raw, &p, "type")
	case KindRun:
		var p RunPayload
		return p, strictUnmarshalAllowing(raw, &p, "type")
	case KindWriteSimpleMemory:
		var p WriteSimpleMemoryPayload
		return p, strictUnmarshalAllowing(raw, &p, "type")
	case KindWriteLargeMemory:
		var p WriteLargeMemoryPayload
		return p, strictUnmarshalAllowing(raw, &p, "type")
	case KindWriteAMLCData:
		var p WriteAMLCDataPayload
		return p, strictUnmarshalAllowing(raw, &p, "type")
	case KindBL2Boot:
		var p BL2BootPayload
		return p, strictUnmarshalAllowing(raw, &p, "type")
	case KindRestorePartition:
		var p RestorePartitionPayload
		return p, strictUnmarshalAllowing(raw, &p, "type")
	case KindWriteEnv:
		var p WriteEnvPayload
		return p, strictUnmarshalAllowing(raw, &p, "type")
	case KindLog:
		var p LogPayload
		return p, strictUnmarshalAllowing(raw, &p, "type")
	case KindWait:
		var wrapper struct {
			Wait WaitPayload `json:"wait"`
		}
		if err := strictUnmarshalAllowing(raw, &wrapper, "type"); err != nil {
			return nil, err
		}
		return wrapper.Wait, nil
	default:
		return nil, fmt.Errorf("no payload decoder for %q", kind)
	}
}

// strictUnmarshal decodes data into v, rejecting unknown fields.
func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// strictUnmarshalAllowing decodes data into v, rejecting unknown fields
// except the discriminator key(s) already consumed by the caller.
func strictUnmarshalAllowing(data []byte, v any, allowedExtra ...string) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	allowed := make(map[string]bool, len(allowedExtra))
	for _, k := range allowedExtra {
		allowed[k] = true
	}
	for k := range allowed {
		delete(raw, k)
	}
	filtered, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return strictUnmarshal(filtered, v)
}

// Marshal serializes a Program back to JSON, matching Parse's schema
// (spec §8 testable property 1: parse -> serialize -> parse round-trip).
func Marshal(p *Program) ([]byte, error) {
	out := map[string]any{
		"metadataVersion": p.MetadataVersion,
	}
	if p.Name != "" {
		out["name"] = p.Name
	}
	if p.Version != "" {
		out["version"] = p.Version
	}
	if p.Description != "" {
		out["description"] = p.Description
	}
	if len(p.Variables) > 0 {
		out["variables"] = p.Variables
	}

	steps := make([]map[string]any, 0, len(p.Steps))
	for _, s := range p.Steps {
		obj, err := marshalStep(s)
		if err != nil {
			return nil, err
		}
		steps = append(steps, obj)
	}
	out["steps"] = steps

	return json.Marshal(out)
}

func marshalStep(s Step) (map[string]any, error) {
	base := map[string]any{"type": string(s.Kind)}
	if s.Payload == nil {
		return base, nil
	}

	payloadJSON, err := json.Marshal(s.Payload)
	if err != nil {
		return nil, err
	}

	if s.Kind == KindWait {
		base["wait"] = json.RawMessage(payloadJSON)
		return base, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payloadJSON, &fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		base[k] = v
	}
	return base, nil
}
