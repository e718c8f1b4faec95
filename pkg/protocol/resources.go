// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kraklabs/elenchus/internal/errors"
	"github.com/kraklabs/elenchus/pkg/convergence"
)

// resourceDebounce is how long the hub waits after the last touch to a
// session before firing a notification, coalescing bursts of rapid
// mutation (e.g. several issue transitions within one round) into one.
const resourceDebounce = 100 * time.Millisecond

// Notifier is the transport-side hook the resource hub calls once a
// debounced change notification is ready to send. cmd/elenchus wires this
// to the stdio frame writer; tests can stub it.
type Notifier func(n Notification)

// subscription is one client's watch on a resource URI.
type subscription struct {
	id  string
	uri string
}

// resourceHub tracks per-session subscriptions and debounces the
// notify-on-mutation signal Dispatch raises via touch.
type resourceHub struct {
	app *App

	mu            sync.Mutex
	subscriptions map[string]subscription // subscriptionID -> subscription
	timers        map[string]*time.Timer  // sessionID -> pending debounce timer

	notify Notifier
}

func newResourceHub(a *App) *resourceHub {
	return &resourceHub{
		app:           a,
		subscriptions: make(map[string]subscription),
		timers:        make(map[string]*time.Timer),
	}
}

// SetNotifier installs the transport callback used to deliver debounced
// change notifications. Uninstalled (nil) by default, in which case touch
// still debounces but delivers nowhere — used by tests that only exercise
// ReadResource.
func (h *resourceHub) SetNotifier(n Notifier) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.notify = n
}

// touch schedules a debounced "resources/updated" notification for every
// subscription whose URI is rooted at this session, resetting the timer
// if one is already pending.
func (h *resourceHub) touch(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if t, ok := h.timers[sessionID]; ok {
		t.Stop()
	}
	h.timers[sessionID] = time.AfterFunc(resourceDebounce, func() {
		h.fire(sessionID)
	})
}

func (h *resourceHub) fire(sessionID string) {
	h.mu.Lock()
	notify := h.notify
	var uris []string
	prefix := "elenchus://sessions/" + sessionID
	for _, sub := range h.subscriptions {
		if sub.uri == prefix || strings.HasPrefix(sub.uri, prefix+"/") {
			uris = append(uris, sub.uri)
		}
	}
	delete(h.timers, sessionID)
	h.mu.Unlock()

	if notify == nil {
		return
	}
	for _, uri := range uris {
		notify(Notification{Method: "resources/updated", Params: map[string]string{"uri": uri}})
	}
}

// Subscribe registers interest in uri and returns an opaque subscription
// ID used later with Unsubscribe.
func (h *resourceHub) Subscribe(uri string) (string, error) {
	if _, _, err := parseResourceURI(uri); err != nil {
		return "", err
	}
	id := uuidString()
	h.mu.Lock()
	h.subscriptions[id] = subscription{id: id, uri: uri}
	h.mu.Unlock()
	return id, nil
}

// Unsubscribe removes a previously issued subscription.
func (h *resourceHub) Unsubscribe(subscriptionID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscriptions[subscriptionID]; !ok {
		return errors.NewNotFoundError("subscription not found", subscriptionID)
	}
	delete(h.subscriptions, subscriptionID)
	return nil
}

// resourceKind discriminates the six readable URI shapes.
type resourceKind int

const (
	resourceSession resourceKind = iota
	resourceIssues
	resourceIssue
	resourceRounds
	resourceRound
	resourceConvergence
)

// parseResourceURI validates and decomposes an elenchus://sessions/{id}[...]
// resource URI.
func parseResourceURI(uri string) (sessionID string, kind resourceKind, err error) {
	const prefix = "elenchus://sessions/"
	if !strings.HasPrefix(uri, prefix) {
		return "", 0, errors.NewValidationError("unsupported resource URI", uri, "resource URIs must start with elenchus://sessions/")
	}
	rest := strings.TrimPrefix(uri, prefix)
	parts := strings.Split(rest, "/")
	sessionID = parts[0]
	if sessionID == "" {
		return "", 0, errors.NewValidationError("resource URI missing session id", uri, "")
	}

	switch len(parts) {
	case 1:
		return sessionID, resourceSession, nil
	case 2:
		switch parts[1] {
		case "issues":
			return sessionID, resourceIssues, nil
		case "rounds":
			return sessionID, resourceRounds, nil
		case "convergence":
			return sessionID, resourceConvergence, nil
		}
	case 3:
		switch parts[1] {
		case "issues":
			return sessionID, resourceIssue, nil
		case "rounds":
			return sessionID, resourceRound, nil
		}
	}
	return "", 0, errors.NewValidationError("unrecognized resource URI shape", uri, "supported: /sessions/{id}, /issues, /issues/{issueId}, /rounds, /rounds/{n}, /convergence")
}

// SetNotifier installs the transport callback the resource hub uses to
// deliver debounced "resources/updated" notifications.
func (a *App) SetNotifier(n Notifier) {
	a.resources.SetNotifier(n)
}

// Subscribe registers interest in a resource URI, returning an opaque
// subscription id later passed to Unsubscribe.
func (a *App) Subscribe(uri string) (string, error) {
	return a.resources.Subscribe(uri)
}

// Unsubscribe removes a previously issued subscription.
func (a *App) Unsubscribe(subscriptionID string) error {
	return a.resources.Unsubscribe(subscriptionID)
}

// ReadResource projects the live session state named by uri into a plain
// JSON-serializable value.
func (a *App) ReadResource(uri string) (any, error) {
	sessionID, kind, err := parseResourceURI(uri)
	if err != nil {
		return nil, err
	}
	s, err := a.requireSession(sessionID)
	if err != nil {
		return nil, err
	}

	const prefix = "elenchus://sessions/"
	rest := strings.TrimPrefix(uri, prefix)
	parts := strings.Split(rest, "/")

	switch kind {
	case resourceSession:
		return s, nil
	case resourceIssues:
		return s.Issues, nil
	case resourceIssue:
		id := strings.ToUpper(parts[2])
		iss, ok := s.Issues[id]
		if !ok {
			return nil, errors.NewNotFoundError("issue not found", id)
		}
		return iss, nil
	case resourceRounds:
		return s.Rounds, nil
	case resourceRound:
		n, perr := strconv.Atoi(parts[2])
		if perr != nil {
			return nil, errors.NewValidationError("round number must be an integer", parts[2], "")
		}
		for _, r := range s.Rounds {
			if r.Number == n {
				return r, nil
			}
		}
		return nil, errors.NewNotFoundError("round not found", parts[2])
	case resourceConvergence:
		return convergence.Evaluate(s), nil
	default:
		return nil, errors.NewValidationError("unrecognized resource URI shape", uri, "")
	}
}
