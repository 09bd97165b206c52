package meshproto

// AdminKind identifies which variant an AdminMessage carries. The session
// filter only needs to classify requests, so unrecognized variants decode
// as AdminUnknown with the field number preserved.
type AdminKind int

const (
	AdminUnknown AdminKind = iota
	AdminGetConfig
	AdminSetConfig
	AdminGetModuleConfig
	AdminSetModuleConfig
	AdminGetDeviceMetadata
	AdminSetOwner
	AdminSetChannel
	AdminRemoveByNodenum
	AdminSetFavoriteNode
	AdminRemoveFavoriteNode
	AdminSetFixedPosition
	AdminSetIgnoredNode
	AdminRemoveIgnoredNode
	AdminBeginEditSettings
	AdminCommitEditSettings
	AdminRebootSeconds
	AdminNodedbReset
)

func (k AdminKind) String() string {
	switch k {
	case AdminGetConfig:
		return "get_config_request"
	case AdminSetConfig:
		return "set_config"
	case AdminGetModuleConfig:
		return "get_module_config_request"
	case AdminSetModuleConfig:
		return "set_module_config"
	case AdminGetDeviceMetadata:
		return "get_device_metadata_request"
	case AdminSetOwner:
		return "set_owner"
	case AdminSetChannel:
		return "set_channel"
	case AdminRemoveByNodenum:
		return "remove_by_nodenum"
	case AdminSetFavoriteNode:
		return "set_favorite_node"
	case AdminRemoveFavoriteNode:
		return "remove_favorite_node"
	case AdminSetFixedPosition:
		return "set_fixed_position"
	case AdminSetIgnoredNode:
		return "set_ignored_node"
	case AdminRemoveIgnoredNode:
		return "remove_ignored_node"
	case AdminBeginEditSettings:
		return "begin_edit_settings"
	case AdminCommitEditSettings:
		return "commit_edit_settings"
	case AdminRebootSeconds:
		return "reboot_seconds"
	case AdminNodedbReset:
		return "nodedb_reset"
	default:
		return "unknown"
	}
}

// ReadOnly reports whether the request only reads device state.
func (k AdminKind) ReadOnly() bool {
	switch k {
	case AdminGetConfig, AdminGetModuleConfig, AdminGetDeviceMetadata:
		return true
	default:
		return false
	}
}

// ConfigType selects a section for get_config_request.
type ConfigType uint32

const (
	ConfigDevice     ConfigType = 0
	ConfigPosition   ConfigType = 1
	ConfigPower      ConfigType = 2
	ConfigNetwork    ConfigType = 3
	ConfigDisplay    ConfigType = 4
	ConfigLoRa       ConfigType = 5
	ConfigBluetooth  ConfigType = 6
	ConfigSecurity   ConfigType = 7
	ConfigSessionKey ConfigType = 8
)

// ModuleConfigType selects a section for get_module_config_request.
type ModuleConfigType uint32

const (
	ModuleConfigMQTT         ModuleConfigType = 0
	ModuleConfigSerial       ModuleConfigType = 1
	ModuleConfigExtNotif     ModuleConfigType = 2
	ModuleConfigStoreForward ModuleConfigType = 3
	ModuleConfigRangeTest    ModuleConfigType = 4
	ModuleConfigTelemetry    ModuleConfigType = 5
	ModuleConfigCannedMsg    ModuleConfigType = 6
	ModuleConfigNeighborInfo ModuleConfigType = 9
	ModuleConfigPaxcounter   ModuleConfigType = 12
)

const (
	adminFieldGetConfig          = 5
	adminFieldSetConfig          = 6
	adminFieldGetModuleConfig    = 7
	adminFieldSetModuleConfig    = 8
	adminFieldGetDeviceMetadata  = 12
	adminFieldSetOwner           = 32
	adminFieldSetChannel         = 33
	adminFieldRemoveByNodenum    = 38
	adminFieldSetFavoriteNode    = 39
	adminFieldRemoveFavoriteNode = 40
	adminFieldSetFixedPosition   = 41
	adminFieldSetIgnoredNode     = 46
	adminFieldRemoveIgnoredNode  = 47
	adminFieldBeginEditSettings  = 64
	adminFieldCommitEditSettings = 65
	adminFieldRebootSeconds      = 97
	adminFieldNodedbReset        = 100
	adminFieldSessionPasskey     = 101
)

// AdminMessage is a decoded device administration request or response.
type AdminMessage struct {
	Kind           AdminKind
	VariantField   int
	SessionPasskey []byte

	ConfigType       ConfigType
	ModuleConfigType ModuleConfigType
	RawConfig        []byte
	NodeNum          uint32
	Owner            *User
	Channel          *Channel
	Position         *Position
	RebootSeconds    int32
}

// DecodeAdminMessage decodes the variant and session passkey of an admin
// payload. Decode errors are reported; unknown variant fields are not.
func DecodeAdminMessage(buf []byte) (*AdminMessage, error) {
	msg := &AdminMessage{}
	err := walkFields(buf, func(fieldNum, wireType int, val uint64, data []byte) error {
		if fieldNum == adminFieldSessionPasskey {
			msg.SessionPasskey = append([]byte(nil), data...)

			return nil
		}
		if msg.Kind != AdminUnknown {
			return nil
		}
		msg.VariantField = fieldNum
		switch fieldNum {
		case adminFieldGetConfig:
			msg.Kind = AdminGetConfig
			msg.ConfigType = ConfigType(val)
		case adminFieldSetConfig:
			msg.Kind = AdminSetConfig
			msg.RawConfig = append([]byte(nil), data...)
		case adminFieldGetModuleConfig:
			msg.Kind = AdminGetModuleConfig
			msg.ModuleConfigType = ModuleConfigType(val)
		case adminFieldSetModuleConfig:
			msg.Kind = AdminSetModuleConfig
			msg.RawConfig = append([]byte(nil), data...)
		case adminFieldGetDeviceMetadata:
			msg.Kind = AdminGetDeviceMetadata
		case adminFieldSetOwner:
			msg.Kind = AdminSetOwner
			user, err := decodeUser(data)
			if err != nil {
				return err
			}
			msg.Owner = user
		case adminFieldSetChannel:
			msg.Kind = AdminSetChannel
			ch, err := decodeChannel(data)
			if err != nil {
				return err
			}
			msg.Channel = ch
		case adminFieldRemoveByNodenum:
			msg.Kind = AdminRemoveByNodenum
			msg.NodeNum = uint32(val)
		case adminFieldSetFavoriteNode:
			msg.Kind = AdminSetFavoriteNode
			msg.NodeNum = uint32(val)
		case adminFieldRemoveFavoriteNode:
			msg.Kind = AdminRemoveFavoriteNode
			msg.NodeNum = uint32(val)
		case adminFieldSetFixedPosition:
			msg.Kind = AdminSetFixedPosition
			pos, err := DecodePosition(data)
			if err != nil {
				return err
			}
			msg.Position = pos
		case adminFieldSetIgnoredNode:
			msg.Kind = AdminSetIgnoredNode
			msg.NodeNum = uint32(val)
		case adminFieldRemoveIgnoredNode:
			msg.Kind = AdminRemoveIgnoredNode
			msg.NodeNum = uint32(val)
		case adminFieldBeginEditSettings:
			msg.Kind = AdminBeginEditSettings
		case adminFieldCommitEditSettings:
			msg.Kind = AdminCommitEditSettings
		case adminFieldRebootSeconds:
			msg.Kind = AdminRebootSeconds
			msg.RebootSeconds = int32(val)
		case adminFieldNodedbReset:
			msg.Kind = AdminNodedbReset
		default:
			msg.VariantField = 0
		}

		return nil
	})
	if err != nil {
		return nil, err
	}
	if msg.Kind != AdminUnknown && msg.VariantField == 0 {
		msg.VariantField = variantFieldFor(msg.Kind)
	}

	return msg, nil
}

func variantFieldFor(kind AdminKind) int {
	switch kind {
	case AdminGetConfig:
		return adminFieldGetConfig
	case AdminSetConfig:
		return adminFieldSetConfig
	case AdminGetModuleConfig:
		return adminFieldGetModuleConfig
	case AdminSetModuleConfig:
		return adminFieldSetModuleConfig
	case AdminGetDeviceMetadata:
		return adminFieldGetDeviceMetadata
	case AdminSetOwner:
		return adminFieldSetOwner
	case AdminSetChannel:
		return adminFieldSetChannel
	case AdminRemoveByNodenum:
		return adminFieldRemoveByNodenum
	case AdminSetFavoriteNode:
		return adminFieldSetFavoriteNode
	case AdminRemoveFavoriteNode:
		return adminFieldRemoveFavoriteNode
	case AdminSetFixedPosition:
		return adminFieldSetFixedPosition
	case AdminSetIgnoredNode:
		return adminFieldSetIgnoredNode
	case AdminRemoveIgnoredNode:
		return adminFieldRemoveIgnoredNode
	case AdminBeginEditSettings:
		return adminFieldBeginEditSettings
	case AdminCommitEditSettings:
		return adminFieldCommitEditSettings
	case AdminRebootSeconds:
		return adminFieldRebootSeconds
	case AdminNodedbReset:
		return adminFieldNodedbReset
	default:
		return 0
	}
}

// MarshalAdminMessage encodes an admin request. The session passkey is
// appended when present so set operations pass the device session check.
func MarshalAdminMessage(msg *AdminMessage) []byte {
	var buf []byte
	switch msg.Kind {
	case AdminGetConfig:
		buf = appendTag(buf, adminFieldGetConfig, wireVarint)
		buf = appendVarint(buf, uint64(msg.ConfigType))
	case AdminSetConfig:
		buf = appendMessageField(buf, adminFieldSetConfig, msg.RawConfig)
	case AdminGetModuleConfig:
		buf = appendTag(buf, adminFieldGetModuleConfig, wireVarint)
		buf = appendVarint(buf, uint64(msg.ModuleConfigType))
	case AdminSetModuleConfig:
		buf = appendMessageField(buf, adminFieldSetModuleConfig, msg.RawConfig)
	case AdminGetDeviceMetadata:
		buf = appendBoolField(buf, adminFieldGetDeviceMetadata, true)
	case AdminSetOwner:
		buf = appendMessageField(buf, adminFieldSetOwner, MarshalUser(msg.Owner))
	case AdminSetChannel:
		buf = appendMessageField(buf, adminFieldSetChannel, marshalChannel(msg.Channel))
	case AdminRemoveByNodenum:
		buf = appendTag(buf, adminFieldRemoveByNodenum, wireVarint)
		buf = appendVarint(buf, uint64(msg.NodeNum))
	case AdminSetFavoriteNode:
		buf = appendTag(buf, adminFieldSetFavoriteNode, wireVarint)
		buf = appendVarint(buf, uint64(msg.NodeNum))
	case AdminRemoveFavoriteNode:
		buf = appendTag(buf, adminFieldRemoveFavoriteNode, wireVarint)
		buf = appendVarint(buf, uint64(msg.NodeNum))
	case AdminSetFixedPosition:
		buf = appendMessageField(buf, adminFieldSetFixedPosition, MarshalPosition(msg.Position))
	case AdminSetIgnoredNode:
		buf = appendTag(buf, adminFieldSetIgnoredNode, wireVarint)
		buf = appendVarint(buf, uint64(msg.NodeNum))
	case AdminRemoveIgnoredNode:
		buf = appendTag(buf, adminFieldRemoveIgnoredNode, wireVarint)
		buf = appendVarint(buf, uint64(msg.NodeNum))
	case AdminBeginEditSettings:
		buf = appendBoolField(buf, adminFieldBeginEditSettings, true)
	case AdminCommitEditSettings:
		buf = appendBoolField(buf, adminFieldCommitEditSettings, true)
	case AdminRebootSeconds:
		buf = appendTag(buf, adminFieldRebootSeconds, wireVarint)
		buf = appendVarint(buf, uint64(int64(msg.RebootSeconds)))
	case AdminNodedbReset:
		buf = appendTag(buf, adminFieldNodedbReset, wireVarint)
		buf = appendVarint(buf, 1)
	}
	buf = appendBytesField(buf, adminFieldSessionPasskey, msg.SessionPasskey)

	return buf
}
