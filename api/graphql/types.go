package graphql

import (
	"github.com/graphql-go/graphql"
)

var (
	// Scalar types; heights and amounts are decimal strings, hashes are 0x hex
	bigIntType  = graphql.String
	hashType    = graphql.String
	addressType = graphql.String
	bytesType   = graphql.String

	statusType      *graphql.Object
	blockType       *graphql.Object
	txMetaType      *graphql.Object
	outputType      *graphql.Object
	inputType       *graphql.Object
	tokenType       *graphql.Object
	spendType       *graphql.Object
	transactionType *graphql.Object
)

func init() {
	initTypes()
}

func initTypes() {
	statusType = graphql.NewObject(graphql.ObjectConfig{
		Name: "Status",
		Fields: graphql.Fields{
			"latestHeight": &graphql.Field{Type: bigIntType},
			"indexed":      &graphql.Field{Type: graphql.NewNonNull(graphql.Boolean)},
		},
	})

	blockType = graphql.NewObject(graphql.ObjectConfig{
		Name: "Block",
		Fields: graphql.Fields{
			"height":     &graphql.Field{Type: graphql.NewNonNull(bigIntType)},
			"hash":       &graphql.Field{Type: graphql.NewNonNull(hashType)},
			"parentHash": &graphql.Field{Type: graphql.NewNonNull(hashType)},
			"timestamp":  &graphql.Field{Type: graphql.NewNonNull(bigIntType)},
			"size":       &graphql.Field{Type: graphql.NewNonNull(bigIntType)},
			"txCount":    &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
		},
	})

	txMetaType = graphql.NewObject(graphql.ObjectConfig{
		Name:        "TxMeta",
		Description: "Index record of a confirmed or mempool transaction",
		Fields: graphql.Fields{
			"hash":        &graphql.Field{Type: graphql.NewNonNull(hashType)},
			"blockHeight": &graphql.Field{Type: bigIntType},
			"blockHash":   &graphql.Field{Type: hashType},
			"index":       &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
			"isMempool":   &graphql.Field{Type: graphql.NewNonNull(graphql.Boolean)},
			"isCoinbase":  &graphql.Field{Type: graphql.NewNonNull(graphql.Boolean)},
			"size":        &graphql.Field{Type: graphql.NewNonNull(bigIntType)},
			"numInputs":   &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
			"numOutputs":  &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
			"tokenId":     &graphql.Field{Type: hashType},
			"tokenAmount": &graphql.Field{Type: bigIntType},
		},
	})

	outputType = graphql.NewObject(graphql.ObjectConfig{
		Name: "Output",
		Fields: graphql.Fields{
			"value":     &graphql.Field{Type: graphql.NewNonNull(bigIntType)},
			"recipient": &graphql.Field{Type: graphql.NewNonNull(addressType)},
		},
	})

	inputType = graphql.NewObject(graphql.ObjectConfig{
		Name: "Input",
		Fields: graphql.Fields{
			"prevTx":    &graphql.Field{Type: graphql.NewNonNull(hashType)},
			"prevIndex": &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
		},
	})

	tokenType = graphql.NewObject(graphql.ObjectConfig{
		Name: "Token",
		Fields: graphql.Fields{
			"tokenId":         &graphql.Field{Type: graphql.NewNonNull(hashType)},
			"firstSeenHeight": &graphql.Field{Type: graphql.NewNonNull(bigIntType)},
			"lastSeenHeight":  &graphql.Field{Type: graphql.NewNonNull(bigIntType)},
			"lastTx":          &graphql.Field{Type: graphql.NewNonNull(hashType)},
			"transferCount":   &graphql.Field{Type: graphql.NewNonNull(bigIntType)},
		},
	})

	spendType = graphql.NewObject(graphql.ObjectConfig{
		Name: "Spend",
		Fields: graphql.Fields{
			"outputIndex": &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
			"spentBy":     &graphql.Field{Type: graphql.NewNonNull(hashType)},
			"inputIndex":  &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
			"height":      &graphql.Field{Type: bigIntType},
			"isMempool":   &graphql.Field{Type: graphql.NewNonNull(graphql.Boolean)},
		},
	})

	transactionType = graphql.NewObject(graphql.ObjectConfig{
		Name: "Transaction",
		Fields: graphql.Fields{
			"hash":    &graphql.Field{Type: graphql.NewNonNull(hashType)},
			"raw":     &graphql.Field{Type: graphql.NewNonNull(bytesType)},
			"inputs":  &graphql.Field{Type: graphql.NewList(graphql.NewNonNull(inputType))},
			"outputs": &graphql.Field{Type: graphql.NewList(graphql.NewNonNull(outputType))},
			"meta":    &graphql.Field{Type: graphql.NewNonNull(txMetaType)},
			"token":   &graphql.Field{Type: tokenType},
			"spends":  &graphql.Field{Type: graphql.NewList(graphql.NewNonNull(spendType))},
		},
	})
}
