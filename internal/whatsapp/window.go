// internal/whatsapp/window.go
package whatsapp

import "time"

// FreeFormWindow is how long after the last inbound message free-form text may
// be sent. Outside it only approved templates are delivered.
const FreeFormWindow = 24 * time.Hour

// CanSendFreeFormAt reports whether free-form text is allowed at now. The
// boundary is inclusive; an unknown last inbound time never allows it.
func CanSendFreeFormAt(lastInbound *time.Time, now time.Time) bool {
	if lastInbound == nil {
		return false
	}
	return now.Sub(*lastInbound) <= FreeFormWindow
}

func CanSendFreeForm(lastInbound *time.Time) bool {
	return CanSendFreeFormAt(lastInbound, time.Now())
}
