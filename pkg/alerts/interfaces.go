/*-
 * Copyright 2025 Carver Automation Corporation.
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

// Package alerts notifies operators of failed sync runs through webhooks.
package alerts

import (
	"context"
)

// AlertService delivers alerts. The sync orchestrator holds one, usually a
// Dispatcher fanning out to every configured webhook.
type AlertService interface {
	// Alert sends alert, or returns an error when delivery failed or the
	// alert is suppressed by a cooldown.
	Alert(ctx context.Context, alert *WebhookAlert) error

	// IsEnabled reports whether Alert does anything.
	IsEnabled() bool
}

var (
	_ AlertService = (*WebhookAlerter)(nil)
	_ AlertService = (*Dispatcher)(nil)
)
