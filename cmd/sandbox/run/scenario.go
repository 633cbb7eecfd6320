package run

import (
	"crypto/ed25519"
	"crypto/rand"

	"github.com/rs/zerolog"

	"github.com/fortiblox/X1-Sandbox/internal/types"
	"github.com/fortiblox/X1-Sandbox/pkg/ledger"
	"github.com/fortiblox/X1-Sandbox/pkg/svm/programs/system"
	"github.com/fortiblox/X1-Sandbox/pkg/transaction"
)

const (
	scenarioFunding  = 10 * ledger.LamportsPerSOL
	scenarioTransfer = 64
)

// transferScenario funds a fresh account and returns a signed transfer from
// it to another fresh account.
func transferScenario(logger zerolog.Logger, engine *ledger.Engine) (*transaction.Transaction, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	from := types.PubkeyFromPublicKey(pub)
	to, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}

	if _, err := engine.Airdrop(from, scenarioFunding); err != nil {
		return nil, err
	}
	logger.Info().
		Stringer("from", from).
		Stringer("to", types.PubkeyFromPublicKey(to)).
		Uint64("lamports", scenarioTransfer).
		Msg("no transaction given, executing a transfer")

	msg := transaction.NewMessage(
		[]transaction.Instruction{system.Transfer(from, types.PubkeyFromPublicKey(to), scenarioTransfer)},
		&from,
		engine.LatestBlockhash(),
	)
	return transaction.NewTransaction(msg, priv)
}
