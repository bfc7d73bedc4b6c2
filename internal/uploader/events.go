package uploader

// Event is one progress record in a batch's ordered stream. Data is either
// a JSON-serializable payload struct or a plain string.
type Event struct {
	Name string
	Data any
}

// Event names, in the order a typical batch emits them.
const (
	EventCount           = "count"
	EventUpload          = "upload"
	EventBadCredentials  = "badcreds"
	EventSiteError       = "siteerror"
	EventHTTPError       = "httperror"
	EventValidationError = "validationerror"
	EventDelay           = "delay"
	EventGroupDone       = "groupdone"
	EventDone            = "done"
)

// CountData announces how many accounts the batch will attempt.
type CountData struct {
	Count int `json:"count"`
}

// UploadData reports one successful upload.
type UploadData struct {
	Link string `json:"link"`
	Name string `json:"name"`
}

// FailureData reports one failed account attempt. Message is set for
// siteerror and validationerror, Code for httperror.
type FailureData struct {
	Site    string `json:"site"`
	Account string `json:"account"`
	Message string `json:"msg,omitempty"`
	Code    int    `json:"code,omitempty"`
}

// DelayData brackets a cooldown pause between variant posts.
type DelayData struct {
	State string `json:"state"`
	Site  string `json:"site"`
}

const (
	DelayStart = "start"
	DelayEnd   = "end"
)
