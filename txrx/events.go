// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package txrx

// StatusListener receives the coarse user-visible updates:
// Start, Idle, Download(piece), Complete, Stop. OnStart is called
// synchronously from New and OnStop synchronously from Stop; the rest
// are called from the Transceiver's internal run loop. None should block.
type StatusListener interface {
	OnStart()
	OnIdle(idle bool)
	OnDownload(piece int)
	OnComplete()
	OnStop()
}

// NopStatusListener implements StatusListener with no-ops, for callers
// that only care about a subset of the coarse updates.
type NopStatusListener struct{}

func (NopStatusListener) OnStart()       {}
func (NopStatusListener) OnIdle(bool)    {}
func (NopStatusListener) OnDownload(int) {}
func (NopStatusListener) OnComplete()    {}
func (NopStatusListener) OnStop()        {}
