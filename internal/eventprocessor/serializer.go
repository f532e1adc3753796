// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

package eventprocessor

import (
	"fmt"
	"strconv"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
)

// Metadata keys set on every message.
const (
	MetadataUserID        = "user_id"
	MetadataSchemaVersion = "schema_version"
	// msgIDHeader is what JetStream deduplicates on (nats.MsgIdHdr).
	msgIDHeader = "Nats-Msg-Id"
)

// Marshal validates e and wraps it in a message whose UUID is the event id.
func Marshal(e Event) (*message.Message, error) {
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("validate event: %w", err)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}

	env := e.envelope()
	msg := message.NewMessage(env.EventID, data)
	msg.Metadata.Set(MetadataUserID, env.UserID)
	msg.Metadata.Set(MetadataSchemaVersion, strconv.Itoa(env.GetSchemaVersion()))
	msg.Metadata.Set(msgIDHeader, env.EventID)
	return msg, nil
}

// Unmarshal decodes a message payload into e and validates it.
func Unmarshal(msg *message.Message, e Event) error {
	if err := json.Unmarshal(msg.Payload, e); err != nil {
		return fmt.Errorf("unmarshal event: %w", err)
	}
	if env := e.envelope(); env.SchemaVersion > SchemaVersion {
		return &ValidationError{Field: "schema_version", Message: "unsupported version " + strconv.Itoa(env.SchemaVersion)}
	}
	return e.Validate()
}
