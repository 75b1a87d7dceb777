package contracts

import (
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
)

// RegistryMetaData contains the interface of the singleton Registry contract.
// Creation bytecode is supplied through the constants file.
var RegistryMetaData = &bind.MetaData{
	ABI: `[
	{"type":"function","name":"addParty","stateMutability":"nonpayable","inputs":[{"name":"id","type":"string"},{"name":"contactInfo","type":"string"}],"outputs":[]},
	{"type":"function","name":"addProduct","stateMutability":"nonpayable","inputs":[{"name":"id","type":"string"}],"outputs":[]},
	{"type":"function","name":"initializeParty","stateMutability":"view","inputs":[{"name":"id","type":"string"}],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"initializeProduct","stateMutability":"view","inputs":[{"name":"id","type":"string"}],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"getPartyAddressList","stateMutability":"view","inputs":[{"name":"page","type":"uint256"}],"outputs":[{"name":"","type":"address[10]"}]},
	{"type":"function","name":"getProductAddressList","stateMutability":"view","inputs":[{"name":"page","type":"uint256"}],"outputs":[{"name":"","type":"address[10]"}]},
	{"type":"event","name":"productAddedEvent","anonymous":false,"inputs":[{"name":"productId","type":"string","indexed":false}]},
	{"type":"event","name":"partyAddedEvent","anonymous":false,"inputs":[{"name":"partyId","type":"string","indexed":false}]},
	{"type":"event","name":"errorPermissionDeniedEvent","anonymous":false,"inputs":[{"name":"sender","type":"address","indexed":false}]},
	{"type":"event","name":"errorProductIdExistsEvent","anonymous":false,"inputs":[{"name":"productId","type":"string","indexed":false}]}
]`,
}

// PartyMetaData contains the interface of a Party contract.
var PartyMetaData = &bind.MetaData{
	ABI: `[
	{"type":"function","name":"id","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"event","name":"notificationEvent","anonymous":false,"inputs":[{"name":"_event","type":"string","indexed":false},{"name":"productId","type":"string","indexed":false},{"name":"contactInfo","type":"string","indexed":false}]},
	{"type":"event","name":"errorPermissionDeniedEvent","anonymous":false,"inputs":[{"name":"sender","type":"address","indexed":false}]}
]`,
}

// ProductMetaData contains the interface of a Product contract.
var ProductMetaData = &bind.MetaData{
	ABI: `[
	{"type":"function","name":"id","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"addData","stateMutability":"nonpayable","inputs":[{"name":"data","type":"string"},{"name":"timestamp","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"addPartyAssociation","stateMutability":"nonpayable","inputs":[{"name":"partyId","type":"string"}],"outputs":[]},
	{"type":"function","name":"getData","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"event","name":"dataAddedEvent","anonymous":false,"inputs":[{"name":"data","type":"string","indexed":false},{"name":"timestamp","type":"uint256","indexed":false}]},
	{"type":"event","name":"quantityLimitExceededEvent","anonymous":false,"inputs":[{"name":"id","type":"string","indexed":false},{"name":"quantityLimit","type":"uint256","indexed":false},{"name":"quantityLimitTimeInterval","type":"uint256","indexed":false}]}
]`,
}

func builtinMetaData(k Kind) *bind.MetaData {
	switch k {
	case KindRegistry:
		return RegistryMetaData
	case KindParty:
		return PartyMetaData
	case KindProduct:
		return ProductMetaData
	default:
		return nil
	}
}
