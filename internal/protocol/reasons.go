package protocol

// Rejection reasons.
const (
	ReasonMaxNodes           = "max-nodes-count"
	ReasonDsyncDisabled      = "dsync-disabled"
	ReasonBadSecret          = "bad-secret"
	ReasonVersion            = "version"
	ReasonAsyncDisallowed    = "async-disallowed"
	ReasonDictionaryChecksum = "dictionary-checksum"
	ReasonWrongSpeed         = "wrong-speed"
	ReasonNotSupported       = "not-supported"
	ReasonUnknownRequest     = "unknown-request"
	ReasonFileUnavailable    = "file-unavailable"
)

var reasonText = map[string]string{
	ReasonMaxNodes:           "Workers count limited",
	ReasonDsyncDisabled:      "Dynamic joining disabled",
	ReasonBadSecret:          "Incorrect master secret",
	ReasonVersion:            "Worker version is older than the master accepts",
	ReasonAsyncDisallowed:    "Async mode is not allowed by the master",
	ReasonDictionaryChecksum: "Dictionary differs from the master's",
	ReasonWrongSpeed:         "Reported speed is out of range",
	ReasonNotSupported:       "Requested transfer is not supported",
	ReasonUnknownRequest:     "Unknown file request",
	ReasonFileUnavailable:    "File is not available on the master",
}

// DescribeReason returns operator text for a rejection reason.
func DescribeReason(reason string) string {
	if text, ok := reasonText[reason]; ok {
		return text
	}
	return "Rejected: " + reason
}
