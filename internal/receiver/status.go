package receiver

import (
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/danmuck/castctl/internal/protocol"
	"github.com/danmuck/castctl/internal/protocol/jsonmsg"
)

// ApplicationInfo describes one application running on the receiver.
type ApplicationInfo struct {
	AppID       string   `json:"appId"`
	DisplayName string   `json:"displayName"`
	SessionID   string   `json:"sessionId"`
	StatusText  string   `json:"statusText,omitempty"`
	TransportID string   `json:"transportId,omitempty"`
	Namespaces  []string `json:"namespaces,omitempty"`
}

// ReceiverStatus is a RECEIVER_STATUS snapshot. It is always replaced
// wholesale, never merged.
type ReceiverStatus struct {
	Muted         bool              `json:"muted"`
	VolumeLevel   float64           `json:"volumeLevel"`
	IsStandby     bool              `json:"isStandby"`
	IsActiveInput *bool             `json:"isActiveInput,omitempty"`
	Applications  []ApplicationInfo `json:"applications"`
}

// Application returns the first running application with appID.
func (s ReceiverStatus) Application(appID string) (ApplicationInfo, bool) {
	for _, info := range s.Applications {
		if info.AppID == appID {
			return info, true
		}
	}
	return ApplicationInfo{}, false
}

type AppAvailability struct {
	AppID     string `json:"appId"`
	Available bool   `json:"available"`
}

// ParseStatus reads a RECEIVER_STATUS body.
func ParseStatus(msg jsonmsg.Message) (ReceiverStatus, error) {
	if msg.Type() != protocol.TypeReceiverStatus {
		return ReceiverStatus{}, fmt.Errorf("%w: expected %s, got %q", protocol.ErrProtocolViolation, protocol.TypeReceiverStatus, msg.Type())
	}
	raw := msg.Get("status")
	if !raw.IsObject() {
		return ReceiverStatus{}, fmt.Errorf("%w: receiver status without status object", protocol.ErrProtocolViolation)
	}

	status := ReceiverStatus{
		Muted:       raw.Get("volume.muted").Bool(),
		VolumeLevel: raw.Get("volume.level").Float(),
		IsStandby:   raw.Get("isStandBy").Bool(),
	}
	if active := raw.Get("isActiveInput"); active.Exists() {
		v := active.Bool()
		status.IsActiveInput = &v
	}
	raw.Get("applications").ForEach(func(_, app gjson.Result) bool {
		status.Applications = append(status.Applications, parseApplication(app))
		return true
	})
	return status, nil
}

func parseApplication(app gjson.Result) ApplicationInfo {
	info := ApplicationInfo{
		AppID:       app.Get("appId").String(),
		DisplayName: app.Get("displayName").String(),
		SessionID:   app.Get("sessionId").String(),
		StatusText:  app.Get("statusText").String(),
		TransportID: app.Get("transportId").String(),
	}
	for _, ns := range app.Get("namespaces.#.name").Array() {
		info.Namespaces = append(info.Namespaces, ns.String())
	}
	return info
}

func parseAvailability(msg jsonmsg.Message, appIDs []string) []AppAvailability {
	availability := msg.Get("availability").Map()
	out := make([]AppAvailability, 0, len(appIDs))
	for _, id := range appIDs {
		out = append(out, AppAvailability{
			AppID:     id,
			Available: availability[id].String() == "APP_AVAILABLE",
		})
	}
	return out
}
