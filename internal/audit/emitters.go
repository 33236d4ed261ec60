// Carelog - Clinic Audit and Compliance Trail
// Copyright 2026 Carelog Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/carelog/carelog

package audit

import (
	"strings"

	"github.com/goccy/go-json"

	"github.com/carelog/carelog/internal/logging"
)

// Emitters are thin, typed fronts over Record for events the middleware
// cannot infer on its own. They share Record's fire-and-forget contract.

// LogAuth records an authentication event. Action should be one of
// ActionLogin, ActionLoginFailed or ActionLogout. UserID stays empty for
// failed logins; the attempted email is still captured.
func (s *Service) LogAuth(action, userID, email, ipAddress, userAgent string) {
	s.Record(&Entry{
		UserID:    userID,
		UserEmail: email,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Action:    action,
		Resource:  ResourceAuthentication,
	})
}

// LogDataModification records a before/after snapshot of a mutation.
// Snapshots are marshaled best-effort; an unmarshalable value becomes an
// absent snapshot, never a lost entry.
func (s *Service) LogDataModification(userID, email, action, resource, resourceID string, oldValues, newValues interface{}) {
	s.Record(&Entry{
		UserID:     userID,
		UserEmail:  email,
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		OldValues:  marshalSnapshot(oldValues),
		NewValues:  marshalSnapshot(newValues),
	})
}

// LogAdminAction records a privileged operation under the ADMIN_ namespace.
func (s *Service) LogAdminAction(userID, email, action, resource, resourceID string, details interface{}) {
	s.Record(&Entry{
		UserID:     userID,
		UserEmail:  email,
		Action:     ActionPrefixAdmin + strings.ToUpper(action),
		Resource:   resource,
		ResourceID: resourceID,
		NewValues:  marshalSnapshot(details),
	})
}

// LogLGPDEvent records a data-subject-rights event (access, rectification,
// erasure, portability) under the LGPD_ namespace.
func (s *Service) LogLGPDEvent(userID, email, action string, details interface{}) {
	s.Record(&Entry{
		UserID:    userID,
		UserEmail: email,
		Action:    ActionPrefixLGPD + strings.ToUpper(action),
		Resource:  ResourceDataSubjectRights,
		NewValues: marshalSnapshot(details),
	})
}

func marshalSnapshot(v interface{}) json.RawMessage {
	if v == nil {
		return nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw
	}
	data, err := json.Marshal(v)
	if err != nil {
		logging.Warn().Err(err).Msg("Failed to marshal audit snapshot")
		return nil
	}
	return data
}
