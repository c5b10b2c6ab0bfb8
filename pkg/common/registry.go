// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-devsub.
//
// go-devsub is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package common

// ServiceRegistration describes one log service.
type ServiceRegistration struct {
	LogServiceID       string   `json:"log_service_id" yaml:"-"`
	DeviceAPIServiceID string   `json:"device_api_service_id" yaml:"device_api_service_id"`
	CallbackURL        string   `json:"callback_url" yaml:"callback_url"`
	ObjectIDs          []string `json:"oids" yaml:"oids"`
}

// Registry resolves log service ids to their registration.
type Registry interface {
	Get(logServiceID string) (ServiceRegistration, bool)
	List() []ServiceRegistration
}
