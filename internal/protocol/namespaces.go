package protocol

// Well-known sub-protocol namespaces.
const (
	NamespaceConnection = "urn:x-cast:com.google.cast.tp.connection"
	NamespaceHeartbeat  = "urn:x-cast:com.google.cast.tp.heartbeat"
	NamespaceReceiver   = "urn:x-cast:com.google.cast.receiver"
	NamespaceMedia      = "urn:x-cast:com.google.cast.media"
)

// Platform endpoint ids used by the well-known channels.
const (
	DefaultSenderID   = "sender-0"
	DefaultReceiverID = "receiver-0"
	BroadcastID       = "*"
	DefaultPort       = 8009
)

// JSON body message types.
const (
	TypeConnect            = "CONNECT"
	TypeClose              = "CLOSE"
	TypePing               = "PING"
	TypePong               = "PONG"
	TypeGetStatus          = "GET_STATUS"
	TypeGetAppAvailability = "GET_APP_AVAILABILITY"
	TypeLaunch             = "LAUNCH"
	TypeStop               = "STOP"
	TypeSetVolume          = "SET_VOLUME"
	TypeReceiverStatus     = "RECEIVER_STATUS"
	TypeInvalidRequest     = "INVALID_REQUEST"
	TypeLaunchError        = "LAUNCH_ERROR"
	TypeLoad               = "LOAD"
	TypePlay               = "PLAY"
	TypePause              = "PAUSE"
	TypeSeek               = "SEEK"
	TypeEditTracksInfo     = "EDIT_TRACKS_INFO"
	TypeMediaStatus        = "MEDIA_STATUS"
	TypeLoadFailed         = "LOAD_FAILED"
	TypeLoadCancelled      = "LOAD_CANCELLED"
	TypeInvalidPlayerState = "INVALID_PLAYER_STATE"
)
