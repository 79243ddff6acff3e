package schema

import "sync"

// Wire names of the xsd primitives and protocol types the builtin
// namespace defines.
const (
	TypeString    = "string"
	TypeBoolean   = "boolean"
	TypeByte      = "byte"
	TypeShort     = "short"
	TypeInt       = "int"
	TypeLong      = "long"
	TypeDateTime  = "dateTime"
	TypeAny       = "anyType"
	TypeReference = "ManagedObjectReference"

	TypeDynamicData          = "DynamicData"
	TypePropertySpec         = "PropertySpec"
	TypeObjectSpec           = "ObjectSpec"
	TypePropertyFilterSpec   = "PropertyFilterSpec"
	TypePropertyChangeOp     = "PropertyChangeOp"
	TypeObjectUpdateKind     = "ObjectUpdateKind"
	TypePropertyChange       = "PropertyChange"
	TypeObjectUpdate         = "ObjectUpdate"
	TypePropertyFilterUpdate = "PropertyFilterUpdate"
	TypeUpdateSet            = "UpdateSet"
	TypeDynamicProperty      = "DynamicProperty"
	TypeObjectContent        = "ObjectContent"
	TypeLocalizedMethodFault = "LocalizedMethodFault"
	TypeMethodFault          = "MethodFault"
	TypeTask                 = "Task"
	TypeTaskInfo             = "TaskInfo"
	TypeTaskInfoState        = "TaskInfoState"
)

func composite(name, base string, fields ...Field) *Type {
	return &Type{Name: name, Kind: KindComposite, Base: base, Fields: fields}
}

func one(name, typ string) Field  { return Field{Name: name, Type: typ} }
func many(name, typ string) Field { return Field{Name: name, Type: typ, Array: true} }

func builtinDefs() []*Type {
	return []*Type{
		{Name: TypeString, Kind: KindString},
		{Name: TypeBoolean, Kind: KindBool},
		{Name: TypeByte, Kind: KindInt, Bits: 8},
		{Name: TypeShort, Kind: KindInt, Bits: 16},
		{Name: TypeInt, Kind: KindInt, Bits: 32},
		{Name: TypeLong, Kind: KindInt, Bits: 64},
		{Name: TypeDateTime, Kind: KindDateTime},
		{Name: TypeAny, Kind: KindAny},
		{Name: TypeReference, Kind: KindReference},

		composite(TypeDynamicData, ""),

		// Property collector protocol.
		composite(TypePropertySpec, TypeDynamicData,
			one("type", TypeString),
			one("all", TypeBoolean),
			many("pathSet", TypeString)),
		composite(TypeObjectSpec, TypeDynamicData,
			one("obj", TypeReference),
			one("skip", TypeBoolean)),
		composite(TypePropertyFilterSpec, TypeDynamicData,
			many("propSet", TypePropertySpec),
			many("objectSet", TypeObjectSpec)),
		{Name: TypePropertyChangeOp, Kind: KindEnum, Values: []string{"add", "remove", "assign", "indirectRemove"}},
		{Name: TypeObjectUpdateKind, Kind: KindEnum, Values: []string{"modify", "enter", "leave"}},
		composite(TypePropertyChange, TypeDynamicData,
			one("name", TypeString),
			one("op", TypePropertyChangeOp),
			one("val", TypeAny)),
		composite(TypeObjectUpdate, TypeDynamicData,
			one("kind", TypeObjectUpdateKind),
			one("obj", TypeReference),
			many("changeSet", TypePropertyChange)),
		composite(TypePropertyFilterUpdate, TypeDynamicData,
			one("filter", TypeReference),
			many("objectSet", TypeObjectUpdate)),
		composite(TypeUpdateSet, TypeDynamicData,
			one("version", TypeString),
			many("filterSet", TypePropertyFilterUpdate),
			one("truncated", TypeBoolean)),
		composite(TypeDynamicProperty, TypeDynamicData,
			one("name", TypeString),
			one("val", TypeAny)),
		composite(TypeObjectContent, TypeDynamicData,
			one("obj", TypeReference),
			many("propSet", TypeDynamicProperty)),

		// Faults.
		composite(TypeMethodFault, "",
			one("faultCause", TypeLocalizedMethodFault),
			one("faultMessage", TypeString)),
		composite(TypeLocalizedMethodFault, TypeDynamicData,
			one("fault", TypeMethodFault),
			one("localizedMessage", TypeString)),
		composite("RuntimeFault", TypeMethodFault),
		composite("InvalidCollectorVersion", TypeMethodFault),
		composite("RequestCanceled", "RuntimeFault"),
		composite("InvalidProperty", TypeMethodFault, one("name", TypeString)),
		composite("ManagedObjectNotFound", "RuntimeFault", one("obj", TypeReference)),
		composite("InvalidRequest", "RuntimeFault"),

		// Tasks.
		{Name: TypeTaskInfoState, Kind: KindEnum, Values: []string{"queued", "running", "success", "error"}},
		composite(TypeTaskInfo, TypeDynamicData,
			one("key", TypeString),
			one("task", TypeReference),
			one("name", TypeString),
			one("descriptionId", TypeString),
			one("entity", TypeReference),
			one("entityName", TypeString),
			many("locked", TypeReference),
			one("state", TypeTaskInfoState),
			one("cancelled", TypeBoolean),
			one("cancelable", TypeBoolean),
			one("error", TypeLocalizedMethodFault),
			one("result", TypeAny),
			one("progress", TypeInt),
			one("queueTime", TypeDateTime),
			one("startTime", TypeDateTime),
			one("completeTime", TypeDateTime),
			one("eventChainId", TypeInt)),
		composite(TypeTask, "", one("info", TypeTaskInfo)),
	}
}

var builtin = sync.OnceValue(func() *Registry {
	return MustRegistry(builtinDefs())
})

// Builtin returns the well-known namespace: xsd primitives, managed object
// references, the property collector protocol types, faults and tasks.
// The returned registry is immutable and shared.
func Builtin() *Registry {
	return builtin()
}
