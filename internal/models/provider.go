/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package models

import "time"

// NotificationTypeTest is the provider's connectivity check; acknowledged
// without further processing.
const NotificationTypeTest = "webhooks.test"

// WebhookEnvelope is the outer shape of a provider webhook delivery.
type WebhookEnvelope struct {
	SubscriptionId   string                  `json:"subscriptionId"`
	NotificationId   string                  `json:"notificationId"`
	NotificationType string                  `json:"notificationType"`
	Notification     TransactionNotification `json:"notification"`
	Timestamp        time.Time               `json:"timestamp"`
	Version          int                     `json:"version"`
}

// TransactionNotification is the nested transaction object delivered by
// the provider for transaction lifecycle notifications.
type TransactionNotification struct {
	Id                 string   `json:"id"`
	WalletId           string   `json:"walletId"`
	State              string   `json:"state"`
	Blockchain         string   `json:"blockchain"`
	TxHash             string   `json:"txHash"`
	SourceAddress      string   `json:"sourceAddress"`
	DestinationAddress string   `json:"destinationAddress"`
	Amounts            []string `json:"amounts"`
	TokenAddress       string   `json:"tokenAddress"`
	ErrorReason        string   `json:"errorReason"`
	TransactionType    string   `json:"transactionType"`
}
