package application

import "fmt"

var (
	ErrDisposed             = fmt.Errorf("client disposed")
	ErrProvisioningFailed   = fmt.Errorf("provisioning failed")
	ErrTransportUnavailable = fmt.Errorf("transport unavailable")
	ErrNoSubscriptions      = fmt.Errorf("no subscription topics granted")
)
