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

package phttp

// Well-known status codes this engine synthesizes on its own error
// paths (§4.5's 400/413/500 responses).
const (
	StatusOK                  = 200
	StatusBadRequest          = 400
	StatusPayloadTooLarge     = 413
	StatusInternalServerError = 500
)

// statusReasons mirrors the HTTP_STATUS_MAP_{200,300,400,500} tables:
// gap codes reserved by the registry but never assigned a reason phrase
// are present with an empty string and are treated as unknown by
// StatusLine.
var statusReasons = map[int]string{
	200: "OK",
	201: "Created",
	202: "Accepted",
	203: "Non-Authoritative Information",
	204: "No Content",
	205: "Reset Content",
	206: "Partial Content",
	207: "Multi-Status",
	208: "Already Reported",

	300: "Multiple Choices",
	301: "Moved Permanently",
	302: "Found",
	303: "See Other",
	304: "Not Modified",
	305: "Use Proxy",
	306: "Switch Proxy",
	307: "Temporary Redirect",
	308: "Permanent Redirect",

	400: "Bad Request",
	401: "Unauthorized",
	402: "Payment Required",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	406: "Not Acceptable",
	407: "Proxy Authentication Required",
	408: "Request Timeout",
	409: "Conflict",
	410: "Gone",
	411: "Length Required",
	412: "Precondition Failed",
	413: "Payload Too Large",
	414: "URI Too Long",
	415: "Unsupported Media Type",
	416: "Range Not Satisfiable",
	417: "Expectation Failed",
	418: "", // reserved, unassigned
	419: "", // reserved, unassigned
	420: "", // reserved, unassigned
	421: "Misdirected Request",
	422: "Unprocessable Entity",
	423: "Locked",
	424: "Failed Dependency",
	425: "", // reserved, unassigned
	426: "Upgrade Required",
	427: "", // reserved, unassigned
	428: "Precondition Required",
	429: "Too Many Requests",
	430: "", // reserved, unassigned
	431: "Request Header Fields Too Large",

	500: "Internal Server Error",
	501: "Not Implemented",
	502: "Bad Gateway",
	503: "Service Unavailable",
	504: "Gateway Timeout",
	505: "HTTP Version Not Supported",
	506: "Variant Also Negotiates",
	507: "Insufficient Storage",
	508: "Loop Detected",
	509: "", // reserved, unassigned
	510: "Not Extended",
	511: "Network Authentication Required",
}

// StatusLine returns the reason phrase registered for code. A code that
// is absent from the table, or present only as a reserved placeholder
// with an empty phrase, reports ok=false: callers must not emit a
// status line for it.
func StatusLine(code int) (reason string, ok bool) {
	reason, present := statusReasons[code]
	if !present || reason == "" {
		return "", false
	}
	return reason, true
}
