package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/lagrangedao/go-tee-worker/wallet"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"
)

var walletCmd = &cli.Command{
	Name:  "wallet",
	Usage: "Manage the worker keys",
	Subcommands: []*cli.Command{
		walletNew,
		walletList,
		walletImport,
		walletDelete,
		walletSign,
		walletVerify,
	},
}

type walletAction func(ctx context.Context, cctx *cli.Context, w *wallet.LocalWallet) error

// withWallet opens the repo keystore for the duration of one command.
func withWallet(action walletAction) cli.ActionFunc {
	return func(cctx *cli.Context) error {
		repo, err := repoPath(cctx)
		if err != nil {
			return err
		}
		localWallet, err := wallet.SetupWallet(repo)
		if err != nil {
			return fmt.Errorf("failed open wallet, repo: %s, error: %w", repo, err)
		}
		defer localWallet.Close()
		return action(reqContext(cctx), cctx, localWallet)
	}
}

var walletNew = &cli.Command{
	Name:  "new",
	Usage: "Generate a new worker key",
	Action: withWallet(func(ctx context.Context, _ *cli.Context, w *wallet.LocalWallet) error {
		addr, err := w.WalletNew(ctx)
		if err != nil {
			return err
		}
		fmt.Println(addr)
		return nil
	}),
}

var walletList = &cli.Command{
	Name:  "list",
	Usage: "List worker addresses with balance and nonce",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "rpc",
			Usage: "chain rpc url used to read balances",
		},
	},
	Action: withWallet(func(ctx context.Context, cctx *cli.Context, w *wallet.LocalWallet) error {
		infos, err := w.WalletList(ctx, strings.TrimSpace(cctx.String("rpc")))
		if err != nil {
			return err
		}

		data := make([][]string, 0, len(infos))
		var colors []RowColor
		for i, info := range infos {
			data = append(data, []string{info.Address, info.Balance, strconv.FormatUint(info.Nonce, 10), info.Error})
			if info.Error != "" {
				colors = append(colors, RowColor{
					row:    i,
					column: []int{3},
					color:  []tablewriter.Colors{{tablewriter.Bold, tablewriter.FgRedColor}},
				})
			}
		}
		NewVisualTable([]string{"ADDRESS", "BALANCE", "NONCE", "ERROR"}, data, colors).Generate()
		return nil
	}),
}

var walletImport = &cli.Command{
	Name:      "import",
	Usage:     "Import a hex private key",
	ArgsUsage: "[<path> (reads stdin when omitted or -)]",
	Action: withWallet(func(ctx context.Context, cctx *cli.Context, w *wallet.LocalWallet) error {
		key, err := readPrivateKey(cctx)
		if err != nil {
			return err
		}
		addr, err := w.WalletImport(ctx, &wallet.KeyInfo{PrivateKey: key})
		if err != nil {
			return err
		}
		fmt.Printf("imported key %s successfully!\n", addr)
		return nil
	}),
}

func readPrivateKey(cctx *cli.Context) (string, error) {
	var raw []byte
	var err error
	if path := cctx.Args().First(); path != "" && path != "-" {
		raw, err = os.ReadFile(path)
	} else {
		fmt.Print("Enter private key: ")
		raw, err = bufio.NewReader(os.Stdin).ReadBytes('\n')
		if err == io.EOF && len(raw) > 0 {
			err = nil
		}
	}
	if err != nil {
		return "", err
	}
	key := strings.TrimSpace(string(raw))
	if key == "" {
		return "", fmt.Errorf("empty private key")
	}
	return key, nil
}

var walletDelete = &cli.Command{
	Name:      "delete",
	Usage:     "Delete a worker key",
	ArgsUsage: "<address>",
	Before: func(cctx *cli.Context) error {
		if cctx.NArg() != 1 {
			return fmt.Errorf("must specify address to delete")
		}
		if addr := cctx.Args().First(); !wallet.IsValidAddress(addr) {
			return fmt.Errorf("invalid address: %s", addr)
		}
		return nil
	},
	Action: withWallet(func(ctx context.Context, cctx *cli.Context, w *wallet.LocalWallet) error {
		return w.WalletDelete(ctx, cctx.Args().First())
	}),
}

var walletSign = &cli.Command{
	Name:      "sign",
	Usage:     "Sign a message with a worker key",
	ArgsUsage: "<address> <message>",
	Before: func(cctx *cli.Context) error {
		if cctx.NArg() != 2 || strings.TrimSpace(cctx.Args().Get(1)) == "" {
			return fmt.Errorf("must specify signing address and message to sign")
		}
		return nil
	},
	Action: withWallet(func(ctx context.Context, cctx *cli.Context, w *wallet.LocalWallet) error {
		sig, err := w.WalletSign(ctx, cctx.Args().First(), []byte(cctx.Args().Get(1)))
		if err != nil {
			return err
		}
		fmt.Println(sig)
		return nil
	}),
}

// verify needs no keystore.
var walletVerify = &cli.Command{
	Name:      "verify",
	Usage:     "Verify a message signature",
	ArgsUsage: "<address> <signature> <message>",
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 3 {
			return fmt.Errorf("incorrect number of arguments, requires 3 parameters")
		}
		sig, err := hexutil.Decode(cctx.Args().Get(1))
		if err != nil {
			return fmt.Errorf("failed decode signature, error: %w", err)
		}
		ok, err := wallet.Verify(cctx.Args().First(), sig, []byte(cctx.Args().Get(2)))
		if err != nil {
			return err
		}
		fmt.Println(ok)
		return nil
	},
}

func reqContext(cctx *cli.Context) context.Context {
	ctx, _ := signal.NotifyContext(cctx.Context, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	return ctx
}
