/*
 * Copyright 2024 The RuleGo Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package types

import "time"

// NotificationAction identifies what happened.
type NotificationAction string

const (
	MessageReceived        NotificationAction = "MESSAGE_RECEIVED"
	MessageResponse        NotificationAction = "MESSAGE_RESPONSE"
	MessageDispatched      NotificationAction = "MESSAGE_DISPATCHED"
	MessageSent            NotificationAction = "MESSAGE_SENT"
	ProcessorPreInvoke     NotificationAction = "PROCESSOR_PRE_INVOKE"
	ProcessorPostInvoke    NotificationAction = "PROCESSOR_POST_INVOKE"
	ExceptionThrown        NotificationAction = "EXCEPTION_THROWN"
	ConnectorConnected     NotificationAction = "CONNECTOR_CONNECTED"
	ConnectorDisconnected  NotificationAction = "CONNECTOR_DISCONNECTED"
	ConnectorConnectFailed NotificationAction = "CONNECTOR_CONNECT_FAILED"
	FlowStarted            NotificationAction = "FLOW_STARTED"
	FlowStopped            NotificationAction = "FLOW_STOPPED"
	ContextStarted         NotificationAction = "CONTEXT_STARTED"
	ContextStopped         NotificationAction = "CONTEXT_STOPPED"
)

// Notification describes a runtime occurrence.
type Notification struct {
	Action NotificationAction
	// Resource is the name of the endpoint, connector, flow or processor location involved.
	Resource  string
	Event     *Event
	Err       error
	Timestamp time.Time
}

// NewNotification stamps a notification with the current time.
func NewNotification(action NotificationAction, resource string, event *Event, err error) Notification {
	return Notification{Action: action, Resource: resource, Event: event, Err: err, Timestamp: time.Now()}
}

// NotificationListener receives notifications.
type NotificationListener func(n Notification)

// Notifier publishes notifications.
type Notifier interface {
	Fire(n Notification)
}

// NopNotifier drops every notification.
type NopNotifier struct{}

func (NopNotifier) Fire(Notification) {}
