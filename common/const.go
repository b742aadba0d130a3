// Copyright 2025 The ingestd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

const (
	// App 应用程序名称
	App = "ingestd"

	// Version 应用程序版本
	Version = "v0.0.1"

	// DefaultBufferCapacity 单个连接 HTTP Buffer 的默认容量
	//
	// 对应 buffer 分配的初始大小 超出容量的请求会被拒绝为 413
	// 可通过配置覆盖 参见 phttp.Config.BufferCapacity
	DefaultBufferCapacity = 16 * 1024
)
