package adapters

import "bank-recon/pkg/bank"

// New builds the gateway for a bank code.
func New(code string, config Config) (bank.Gateway, error) {
	switch code {
	case bank.BancoDoBrasil:
		return NewBancoDoBrasil(config)
	case bank.Itau:
		return NewItau(config)
	case bank.Bradesco:
		return NewBradesco(config)
	case bank.Inter:
		return NewInter(config)
	case bank.Caixa:
		return NewCaixa(config)
	default:
		return nil, bank.UnsupportedBank(code)
	}
}
