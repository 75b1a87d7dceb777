package contracts

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"gopkg.in/yaml.v3"
)

// ErrMalformedABI is returned when an ABI cannot be parsed or lacks a member the middleware uses.
var ErrMalformedABI = errors.New("malformed contract abi")

var requiredMethods = map[Kind][]string{
	KindRegistry: {
		MethodAddParty, MethodAddProduct,
		MethodInitializeParty, MethodInitializeProduct,
		MethodGetPartyAddressList, MethodGetProductAddressList,
	},
	KindParty:   {MethodID},
	KindProduct: {MethodID, MethodAddData, MethodAddPartyAssociation, MethodGetData},
}

// Descriptor binds a contract kind to its interface, creation code and deployed address.
type Descriptor struct {
	Kind     Kind
	ABI      *abi.ABI
	Bytecode []byte
	// Address is only meaningful for the registry; parties and products are discovered on-chain.
	Address common.Address
}

// Topics returns the event signatures of the kind's closed event set.
func (d *Descriptor) Topics() []common.Hash {
	names := Events(d.Kind)
	topics := make([]common.Hash, 0, len(names))
	for _, name := range names {
		topics = append(topics, d.ABI.Events[name].ID)
	}
	return topics
}

// Catalog is the immutable contract configuration loaded at startup.
type Catalog struct {
	emptyAddress common.Address
	descriptors  map[Kind]*Descriptor
}

// Options selects the sources a Catalog is built from.
type Options struct {
	// ConstantsFile is an optional YAML file overriding built-in metadata.
	ConstantsFile   string
	EmptyAddress    string
	RegistryAddress string
}

// constantsFile mirrors the layout of the deployment constants file.
type constantsFile struct {
	EmptyAddress string                     `yaml:"empty_address"`
	Contracts    map[string]contractSection `yaml:"contracts"`
}

type contractSection struct {
	Interface string `yaml:"interface"`
	Data      string `yaml:"data"`
	Address   string `yaml:"address"`
}

// NewCatalog builds a catalog from the built-in ABIs, the optional constants file
// and explicit overrides, in increasing order of precedence.
func NewCatalog(opts Options) (*Catalog, error) {
	c := &Catalog{descriptors: make(map[Kind]*Descriptor, len(Kinds))}

	for _, k := range Kinds {
		d, err := describe(k, builtinMetaData(k))
		if err != nil {
			return nil, err
		}
		c.descriptors[k] = d
	}

	emptyAddress := opts.EmptyAddress
	if opts.ConstantsFile != "" {
		file, err := readConstants(opts.ConstantsFile)
		if err != nil {
			return nil, err
		}
		if err := c.apply(file); err != nil {
			return nil, err
		}
		if emptyAddress == "" {
			emptyAddress = file.EmptyAddress
		}
	}

	if emptyAddress != "" {
		if !common.IsHexAddress(emptyAddress) {
			return nil, fmt.Errorf("invalid empty address %q", emptyAddress)
		}
		c.emptyAddress = common.HexToAddress(emptyAddress)
	}

	if opts.RegistryAddress != "" {
		if !common.IsHexAddress(opts.RegistryAddress) {
			return nil, fmt.Errorf("invalid registry address %q", opts.RegistryAddress)
		}
		c.descriptors[KindRegistry].Address = common.HexToAddress(opts.RegistryAddress)
	}

	return c, nil
}

func readConstants(path string) (*constantsFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read constants file: %w", err)
	}
	var file constantsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse constants file: %w", err)
	}
	return &file, nil
}

func (c *Catalog) apply(file *constantsFile) error {
	for key, section := range file.Contracts {
		kind, err := ParseKind(key)
		if err != nil {
			return err
		}

		d := c.descriptors[kind]
		if strings.TrimSpace(section.Interface) != "" {
			d, err = describe(kind, &bind.MetaData{ABI: section.Interface})
			if err != nil {
				return err
			}
			d.Address = c.descriptors[kind].Address
			d.Bytecode = c.descriptors[kind].Bytecode
		}
		if section.Data != "" {
			code, err := hexutil.Decode(ensureHexPrefix(section.Data))
			if err != nil {
				return fmt.Errorf("decode %s bytecode: %w", kind, err)
			}
			d.Bytecode = code
		}
		if section.Address != "" {
			if !common.IsHexAddress(section.Address) {
				return fmt.Errorf("invalid %s address %q", kind, section.Address)
			}
			d.Address = common.HexToAddress(section.Address)
		}
		c.descriptors[kind] = d
	}
	return nil
}

func describe(kind Kind, meta *bind.MetaData) (*Descriptor, error) {
	parsed, err := meta.GetAbi()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedABI, kind, err)
	}
	for _, method := range requiredMethods[kind] {
		if _, ok := parsed.Methods[method]; !ok {
			return nil, fmt.Errorf("%w: %s is missing method %s", ErrMalformedABI, kind, method)
		}
	}
	for _, event := range eventSets[kind] {
		if _, ok := parsed.Events[event]; !ok {
			return nil, fmt.Errorf("%w: %s is missing event %s", ErrMalformedABI, kind, event)
		}
	}

	d := &Descriptor{Kind: kind, ABI: parsed}
	if meta.Bin != "" {
		code, err := hexutil.Decode(ensureHexPrefix(meta.Bin))
		if err != nil {
			return nil, fmt.Errorf("decode %s bytecode: %w", kind, err)
		}
		d.Bytecode = code
	}
	return d, nil
}

func ensureHexPrefix(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s
	}
	return "0x" + s
}

// Descriptor returns the descriptor of a kind.
func (c *Catalog) Descriptor(k Kind) (*Descriptor, error) {
	d, ok := c.descriptors[k]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, k)
	}
	return d, nil
}

// EmptyAddress returns the sentinel marking an unfilled address slot.
func (c *Catalog) EmptyAddress() common.Address {
	return c.emptyAddress
}

// IsEmpty reports whether addr is the unfilled slot sentinel.
func (c *Catalog) IsEmpty(addr common.Address) bool {
	return addr == c.emptyAddress
}
