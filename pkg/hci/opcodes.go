package hci

// https://software-dl.ti.com/simplelink/esd/simplelink_cc13x2_sdk/1.60.00.29_new/exports/docs/ble5stack/vendor_specific_guide/BLE_Vendor_Specific_HCI_Guide/hci_interface.html

type PacketType uint8

const (
	PacketTypeCommand         PacketType = 0x01
	PacketTypeACLData         PacketType = 0x02
	PacketTypeSynchronousData PacketType = 0x03
	PacketTypeEvent           PacketType = 0x04
	PacketTypeExtendedCommand PacketType = 0x09
)

type Opcode uint16

const (
	OpcodeReset                              Opcode = 0x0C03
	OpcodeReadBDAddr                         Opcode = 0x1009
	OpcodeSetEventMask                       Opcode = 0x0c01
	OpcodeLESetEventMask                     Opcode = 0x2001
	OpcodeLEReadBufferSize                   Opcode = 0x2002
	OpcodeLEReadSupportedStates              Opcode = 0x201C
	OpcodeLESetRandomAddress                 Opcode = 0x2005
	OpcodeLESetAdvertisingParameters         Opcode = 0x2006
	OpcodeSetAdvertisingData                 Opcode = 0x2008
	OpcodeLESetAdvertisingEnable             Opcode = 0x200A
	OpcodeLEReadFilterAcceptListSize         Opcode = 0x200F
	OpcodeLEClearFilterAcceptList            Opcode = 0x2010
	OpcodeLEAddDeviceToFilterAcceptList      Opcode = 0x2011
	OpcodeLERemoveDeviceFromFilterAcceptList Opcode = 0x2012
	OpcodeLEAddDeviceToResolvingList         Opcode = 0x2027
	OpcodeLERemoveDeviceFromResolvingList    Opcode = 0x2028
	OpcodeLEClearResolvingList               Opcode = 0x2029
	OpcodeLEReadResolvingListSize            Opcode = 0x202A
	OpcodeLESetAddressResolutionEnable       Opcode = 0x202D
)

type EventCode uint8

const (
	EventCodeDisconnectionComplete                EventCode = 0x05
	EventCodeEncryptionChange                     EventCode = 0x08
	EventCodeReadRemoteVersionInformationComplete EventCode = 0x0C
	EventCodeCommandComplete                      EventCode = 0x0E
	EventCodeCommandStatus                        EventCode = 0x0F
	EventCodeHardwareError                        EventCode = 0x10
	EventCodeNumberOfCompletedPackets             EventCode = 0x13
	EventCodeDataBufferOverflow                   EventCode = 0x1A
	EventCodeEncryptionKeyRefreshComplete         EventCode = 0x30
	EventCodeAuthenticatedPayloadTimeoutExpired   EventCode = 0x57
	EventCodeLEMeta                               EventCode = 0x3E
)

type ErrorCode uint8

const (
	ErrorCodeSuccess                     ErrorCode = 0x00
	ErrorCodeUnknownCommand              ErrorCode = 0x01
	ErrorCodeUnknownConnectionIdentifier ErrorCode = 0x02
	ErrorCodeMemoryCapacityExceeded      ErrorCode = 0x07
	ErrorCodeCommandDisallowed           ErrorCode = 0x0C
	ErrorCodeUnsupportedFeatureOrParam   ErrorCode = 0x11
	ErrorCodeInvalidCommandParameters    ErrorCode = 0x12
	ErrorCodeControllerBusy              ErrorCode = 0x3A
)

type LEMetaSubeventCode uint8

const (
	LEMetaSubeventCodeConnectionComplete             LEMetaSubeventCode = 0x01
	LEMetaSubeventCodeAdvertisingReport              LEMetaSubeventCode = 0x02
	LEMetaSubeventCodeConnectionUpdate               LEMetaSubeventCode = 0x03
	LEMetaSubeventCodeReadRemoteUsedFeaturesComplete LEMetaSubeventCode = 0x04
	LEMetaSubeventCodeLongTermKeyRequest             LEMetaSubeventCode = 0x05
	LEMetaSubeventCodeReadLocalP256PublicKeyComplete LEMetaSubeventCode = 0x08
	LEMetaSubeventCodeGenerateDHKeyComplete          LEMetaSubeventCode = 0x09
	LEMetaSubeventCodeEnhancedConnectionComplete     LEMetaSubeventCode = 0x0A
	LEMetaSubeventCodePHYUpdateComplete              LEMetaSubeventCode = 0x0C
	LEMetaSubeventCodeExtendedAdvertisingReport      LEMetaSubeventCode = 0x0D
)
